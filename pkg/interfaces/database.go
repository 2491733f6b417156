package interfaces

import (
	"context"
	"time"

	"studyroom/pkg/types"
)

// MembershipLookup answers whether a user belongs to a group and in which role
// FUNCTIONAL DISCOVERY: Non-members are reported as types.RoleNone with a nil
// error; errors are reserved for lookup failures
type MembershipLookup interface {
	Role(ctx context.Context, groupID, userID string) (types.Role, error)
}

// MessageStore persists chat lines before they are broadcast
type MessageStore interface {
	// CreateMessage stores the message; ID and CreatedAt are already assigned
	CreateMessage(ctx context.Context, msg *types.ChatMessage) error
}

// ProgressStore records problem completion per group
type ProgressStore interface {
	// AddSolver is one atomic add-to-set with create-if-absent
	// ARCHITECTURAL DISCOVERY: Concurrent solvers of the same problem must
	// never lose each other, so the set-add happens at the store boundary
	AddSolver(ctx context.Context, groupID, problemID, userID string) (*types.GroupProgress, error)
}

// ProblemLookup resolves display titles for problem ids
type ProblemLookup interface {
	// ProblemTitle returns ErrNotFound for unknown problems
	ProblemTitle(ctx context.Context, problemID string) (string, error)
}

// ActivityStore records when a member was last seen in a group
type ActivityStore interface {
	TouchMember(ctx context.Context, groupID, userID string, at time.Time) error
}

// DatabaseManager handles all database operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type DatabaseManager interface {
	MembershipLookup
	MessageStore
	ProgressStore
	ProblemLookup
	ActivityStore

	// GetSessionMessages returns up to limit messages in insertion order
	GetSessionMessages(ctx context.Context, groupID, sessionID string, limit int) ([]*types.ChatMessage, error)

	// GetProgress returns ErrNotFound when nobody has solved the problem yet
	GetProgress(ctx context.Context, groupID, problemID string) (*types.GroupProgress, error)

	// UpsertMember seeds or changes a member's role
	UpsertMember(ctx context.Context, groupID, userID string, role types.Role) error

	// UpsertProblem seeds or renames a problem
	UpsertProblem(ctx context.Context, problemID, title string) error

	// HealthCheck verifies database connectivity and basic operations
	// FUNCTIONAL DISCOVERY: Context enables health check timeout to prevent
	// hanging health checks from blocking application startup
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	// TECHNICAL DISCOVERY: Synchronous close ensures all pending operations
	// complete before application shutdown
	Close() error
}
