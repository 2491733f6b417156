package types

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to clients. Every handler failure wraps exactly one
// of these so callers can classify it with errors.Is.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrAuthorization  = errors.New("not authorized")
	ErrNotMember      = errors.New("not a member")
	ErrPersistence    = errors.New("persistence failed")
	ErrValidation     = errors.New("invalid event payload")
	ErrRateLimited    = errors.New("rate limit exceeded")
)

// EventError is a handler failure carrying the text shown to the originating
// connection. Kind is one of the sentinels above.
type EventError struct {
	Kind    error
	Message string
	Cause   error
}

func (e *EventError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes both the kind and the underlying cause.
func (e *EventError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// ClientMessage returns the text sent in the outbound error event.
func ClientMessage(err error) string {
	var ee *EventError
	if errors.As(err, &ee) {
		return ee.Message
	}
	return "Something went wrong"
}

func NewAuthorizationError(msg string) error {
	return &EventError{Kind: ErrAuthorization, Message: msg}
}

func NewNotMemberError(msg string) error {
	return &EventError{Kind: ErrNotMember, Message: msg}
}

func NewPersistenceError(msg string, cause error) error {
	return &EventError{Kind: ErrPersistence, Message: msg, Cause: cause}
}

func NewValidationError(msg string) error {
	return &EventError{Kind: ErrValidation, Message: msg}
}

func NewRateLimitError(msg string) error {
	return &EventError{Kind: ErrRateLimited, Message: msg}
}
