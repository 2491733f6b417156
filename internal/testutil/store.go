package testutil

import (
	"context"
	"sync"
	"time"

	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// Touch is one recorded TouchMember call
type Touch struct {
	GroupID string
	UserID  string
	At      time.Time
}

// MemoryStore is an in-memory interfaces.DatabaseManager with failure injection
type MemoryStore struct {
	mu       sync.Mutex
	roles    map[string]types.Role
	problems map[string]string
	messages []*types.ChatMessage
	progress map[string]*types.GroupProgress
	touches  []Touch

	roleErr      error
	createErr    error
	addSolverErr error
	createDelay  time.Duration
}

var _ interfaces.DatabaseManager = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:    make(map[string]types.Role),
		problems: make(map[string]string),
		progress: make(map[string]*types.GroupProgress),
	}
}

func key(a, b string) string { return a + "\x00" + b }

// SetRole seeds a membership
func (s *MemoryStore) SetRole(groupID, userID string, role types.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[key(groupID, userID)] = role
}

// FailRole makes Role lookups fail
func (s *MemoryStore) FailRole(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roleErr = err
}

// FailCreate makes CreateMessage fail
func (s *MemoryStore) FailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = err
}

// FailAddSolver makes AddSolver fail
func (s *MemoryStore) FailAddSolver(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addSolverErr = err
}

// SlowCreate delays every CreateMessage
func (s *MemoryStore) SlowCreate(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createDelay = d
}

// Messages returns persisted messages in insertion order
func (s *MemoryStore) Messages() []*types.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Touches returns recorded last-active updates
func (s *MemoryStore) Touches() []Touch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Touch, len(s.touches))
	copy(out, s.touches)
	return out
}

func (s *MemoryStore) Role(ctx context.Context, groupID, userID string) (types.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roleErr != nil {
		return types.RoleNone, s.roleErr
	}
	if role, ok := s.roles[key(groupID, userID)]; ok {
		return role, nil
	}
	return types.RoleNone, nil
}

func (s *MemoryStore) CreateMessage(ctx context.Context, msg *types.ChatMessage) error {
	s.mu.Lock()
	delay, err := s.createDelay, s.createErr
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *msg
	s.messages = append(s.messages, &stored)
	return nil
}

func (s *MemoryStore) AddSolver(ctx context.Context, groupID, problemID, userID string) (*types.GroupProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addSolverErr != nil {
		return nil, s.addSolverErr
	}
	k := key(groupID, problemID)
	p, ok := s.progress[k]
	if !ok {
		p = &types.GroupProgress{GroupID: groupID, ProblemID: problemID, CompletedAt: time.Now().UTC()}
		s.progress[k] = p
	}
	if !p.HasSolver(userID) {
		p.SolvedBy = append(p.SolvedBy, userID)
	}
	out := *p
	out.SolvedBy = append([]string(nil), p.SolvedBy...)
	return &out, nil
}

func (s *MemoryStore) ProblemTitle(ctx context.Context, problemID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if title, ok := s.problems[problemID]; ok {
		return title, nil
	}
	return "", interfaces.ErrNotFound
}

func (s *MemoryStore) TouchMember(ctx context.Context, groupID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touches = append(s.touches, Touch{GroupID: groupID, UserID: userID, At: at})
	return nil
}

func (s *MemoryStore) GetSessionMessages(ctx context.Context, groupID, sessionID string, limit int) ([]*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.ChatMessage
	for _, m := range s.messages {
		if m.GroupID == groupID && m.SessionID == sessionID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) GetProgress(ctx context.Context, groupID, problemID string) (*types.GroupProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[key(groupID, problemID)]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	out := *p
	out.SolvedBy = append([]string(nil), p.SolvedBy...)
	return &out, nil
}

func (s *MemoryStore) UpsertMember(ctx context.Context, groupID, userID string, role types.Role) error {
	s.SetRole(groupID, userID, role)
	return nil
}

func (s *MemoryStore) UpsertProblem(ctx context.Context, problemID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[problemID] = title
	return nil
}

func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
