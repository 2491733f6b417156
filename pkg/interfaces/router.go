package interfaces

import (
	"context"

	"studyroom/pkg/types"
)

// EventRouter receives every decoded inbound event from the gateway
// ARCHITECTURAL DISCOVERY: The gateway depends only on this interface, so
// room semantics live outside the transport package
type EventRouter interface {
	// Dispatch handles one event for one connection
	// FUNCTIONAL DISCOVERY: Handler failures are reported to the caller
	// through an error event; the connection is never terminated
	Dispatch(ctx context.Context, conn Connection, event types.InboundEvent)

	// Disconnect tears down every room the connection occupies
	Disconnect(ctx context.Context, conn Connection)
}
