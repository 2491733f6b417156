package database

import "errors"

// Database manager errors
var (
	ErrManagerClosed       = errors.New("database manager is closed")
	ErrManagerShuttingDown = errors.New("database manager is shutting down")
	ErrWriteTimeout        = errors.New("write operation timeout")
)
