package interfaces

import "time"

// Connection represents one authenticated client socket
// ARCHITECTURAL DISCOVERY: Pure abstraction without implementation details
// keeps room logic testable without a live WebSocket
type Connection interface {
	// ID returns the server-assigned connection id
	ID() string

	// UserID returns the identity bound at handshake
	// FUNCTIONAL DISCOVERY: Identity never changes for the lifetime of
	// the connection, so callers may read it without locking
	UserID() string

	// DisplayName returns the name shown to other participants
	DisplayName() string

	// ConnectedAt returns when the handshake completed
	ConnectedAt() time.Time

	// Emit queues a reliable outbound event (thread-safe)
	// TECHNICAL DISCOVERY: Reliable events never drop; the call blocks up to
	// the write timeout and fails if the client cannot keep up
	Emit(event string, payload any) error

	// EmitEphemeral queues a lossy outbound event (thread-safe)
	// TECHNICAL DISCOVERY: When the ephemeral queue is full the oldest queued
	// event is discarded so fresh cursor and code state wins
	EmitEphemeral(event string, payload any) error

	// Close closes the connection and cleans up resources
	Close() error
}
