package interfaces_test

import (
	"context"
	"testing"
	"time"

	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// Mock implementations for testing

type mockConnection struct{}

func (m *mockConnection) ID() string                                    { return "c1" }
func (m *mockConnection) UserID() string                                { return "u1" }
func (m *mockConnection) DisplayName() string                           { return "Ann" }
func (m *mockConnection) ConnectedAt() time.Time                        { return time.Time{} }
func (m *mockConnection) Emit(event string, payload any) error          { return nil }
func (m *mockConnection) EmitEphemeral(event string, payload any) error { return nil }
func (m *mockConnection) Close() error                                  { return nil }

type mockRouter struct{}

func (m *mockRouter) Dispatch(ctx context.Context, conn interfaces.Connection, event types.InboundEvent) {
}
func (m *mockRouter) Disconnect(ctx context.Context, conn interfaces.Connection) {}

type mockDB struct{}

func (m *mockDB) Role(ctx context.Context, groupID, userID string) (types.Role, error) {
	return types.RoleNone, nil
}
func (m *mockDB) CreateMessage(ctx context.Context, msg *types.ChatMessage) error { return nil }
func (m *mockDB) AddSolver(ctx context.Context, groupID, problemID, userID string) (*types.GroupProgress, error) {
	return &types.GroupProgress{}, nil
}
func (m *mockDB) ProblemTitle(ctx context.Context, problemID string) (string, error) {
	return "", interfaces.ErrNotFound
}
func (m *mockDB) TouchMember(ctx context.Context, groupID, userID string, at time.Time) error {
	return nil
}
func (m *mockDB) GetSessionMessages(ctx context.Context, groupID, sessionID string, limit int) ([]*types.ChatMessage, error) {
	return nil, nil
}
func (m *mockDB) GetProgress(ctx context.Context, groupID, problemID string) (*types.GroupProgress, error) {
	return nil, interfaces.ErrNotFound
}
func (m *mockDB) UpsertMember(ctx context.Context, groupID, userID string, role types.Role) error {
	return nil
}
func (m *mockDB) UpsertProblem(ctx context.Context, problemID, title string) error { return nil }
func (m *mockDB) HealthCheck(ctx context.Context) error                            { return nil }
func (m *mockDB) Close() error                                                     { return nil }

// Architectural Validation Tests - Ensure interfaces are properly defined

func TestInterfaces_ArchitecturalCompliance(t *testing.T) {
	var _ interfaces.Connection = &mockConnection{}
	var _ interfaces.EventRouter = &mockRouter{}
	var _ interfaces.DatabaseManager = &mockDB{}

	// Every collaborator is satisfiable by the aggregate manager
	var db interfaces.DatabaseManager = &mockDB{}
	var _ interfaces.MembershipLookup = db
	var _ interfaces.MessageStore = db
	var _ interfaces.ProgressStore = db
	var _ interfaces.ProblemLookup = db
	var _ interfaces.ActivityStore = db
}

func TestDatabaseManager_InterfaceContract(t *testing.T) {
	var db interfaces.DatabaseManager = &mockDB{}
	ctx := context.Background()

	role, err := db.Role(ctx, "g1", "u1")
	if err != nil || role.IsMember() {
		t.Errorf("Expected non-member role without error, got %q, %v", role, err)
	}
	if _, err := db.ProblemTitle(ctx, "p9"); err != interfaces.ErrNotFound {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	_ = db.CreateMessage(ctx, &types.ChatMessage{})
	_, _ = db.AddSolver(ctx, "g1", "p9", "u1")
	_ = db.TouchMember(ctx, "g1", "u1", time.Now())
	_ = db.HealthCheck(ctx)
	_ = db.Close()
}
