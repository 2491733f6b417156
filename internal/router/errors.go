package router

import "errors"

// Router-level causes attached to client-facing event errors
var (
	ErrNotInRoom         = errors.New("connection is not in the room")
	ErrRoomMismatch      = errors.New("payload does not match the room")
	ErrRateLimitExceeded = errors.New("chat rate limit exceeded")
	ErrUnsupportedEvent  = errors.New("unsupported event")
)
