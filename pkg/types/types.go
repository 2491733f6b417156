package types

import (
	"time"
)

// Role is a user's standing inside a study group as reported by the
// membership lookup.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
	RoleNone      Role = "none"
)

// IsMember reports whether the role admits the user into group rooms.
func (r Role) IsMember() bool {
	switch r {
	case RoleAdmin, RoleModerator, RoleMember:
		return true
	default:
		return false
	}
}

// CanChangeProblem reports whether the role may switch the room's active problem.
func (r Role) CanChangeProblem() bool {
	return r == RoleAdmin || r == RoleModerator
}

// ParseRole maps a stored role string onto a Role; unknown values are RoleNone.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleAdmin, RoleModerator, RoleMember:
		return Role(s)
	default:
		return RoleNone
	}
}

// Chat message kinds. Clients may only send text and code; system messages
// are composed by the server.
const (
	MessageTypeText   = "text"
	MessageTypeCode   = "code"
	MessageTypeSystem = "system"
)

// ChatMessage is a persisted chat line in a study-group session.
// Immutable once created; ID is server-assigned and is the deduplication key.
type ChatMessage struct {
	ID        string    `json:"id"`
	GroupID   string    `json:"group_id"`
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// GroupProgress records which members of a group solved a problem.
// One record per (GroupID, ProblemID); SolvedBy only ever grows.
type GroupProgress struct {
	GroupID     string    `json:"group_id"`
	ProblemID   string    `json:"problem_id"`
	SolvedBy    []string  `json:"solved_by"`
	CompletedAt time.Time `json:"completed_at"`
}

// HasSolver reports whether userID is already in SolvedBy.
func (p *GroupProgress) HasSolver(userID string) bool {
	for _, id := range p.SolvedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Participant is one live connection as shown in a room's presence list.
type Participant struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId"`
}
