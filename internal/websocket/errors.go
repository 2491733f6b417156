package websocket

import (
	"errors"
	"fmt"

	"studyroom/pkg/types"
)

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrDuplicateConnection = errors.New("connection already registered")
	ErrNotRegistered       = errors.New("connection not registered")
)

// ErrShuttingDown refuses handshakes that arrive after Shutdown began
var ErrShuttingDown = errors.New("server shutting down")

// Handshake errors; all classify as types.ErrAuthentication
var (
	ErrMissingCredentials = fmt.Errorf("%w: userId and displayName are required", types.ErrAuthentication)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid userId or displayName", types.ErrAuthentication)
	ErrTokenRequired      = fmt.Errorf("%w: token required", types.ErrAuthentication)
	ErrInvalidToken       = fmt.Errorf("%w: invalid token", types.ErrAuthentication)
	ErrExpiredToken       = fmt.Errorf("%w: token has expired", types.ErrAuthentication)
)
