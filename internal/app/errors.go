package app

import "errors"

var (
	ErrAlreadyStarted = errors.New("application already started")
	ErrNotStarted     = errors.New("application not started")
	ErrStopped        = errors.New("application already stopped")
)
