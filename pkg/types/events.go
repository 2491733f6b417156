package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound event names.
const (
	EventJoinRoom       = "join-room"
	EventSendMessage    = "send-message"
	EventCodeChange     = "code-change"
	EventCursorPosition = "cursor-position"
	EventProblemChange  = "problem-change"
	EventProblemSolved  = "problem-solved"
	EventTypingStart    = "typing-start"
	EventTypingStop     = "typing-stop"
	EventLeaveRoom      = "leave-room"
	EventJoinInterview  = "join-interview"
	EventLanguageChange = "language-change"
	EventLeaveInterview = "leave-interview"
)

// Outbound event names.
const (
	EventRoomUsers         = "room-users"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventReceiveMessage    = "receive-message"
	EventCodeUpdated       = "code-updated"
	EventCodeUpdate        = "code-update"
	EventCursorUpdate      = "cursor-update"
	EventProblemChanged    = "problem-changed"
	EventUserSolvedProblem = "user-solved-problem"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventJoinedInterview   = "joined-interview"
	EventActiveUsers       = "active-users"
	EventErrorOut          = "error"
)

// Envelope is the JSON frame exchanged over the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Frame is an outbound envelope before encoding.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// InboundEvent is the closed set of events a client may send. The unexported
// marker keeps implementations inside this package.
type InboundEvent interface {
	Name() string
	Validate() error
	inbound()
}

type JoinRoom struct {
	RoomID    string `json:"roomId"`
	GroupID   string `json:"groupId"`
	SessionID string `json:"sessionId"`
}

type SendMessage struct {
	RoomID      string `json:"roomId"`
	GroupID     string `json:"groupId"`
	SessionID   string `json:"sessionId"`
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

// CodeChange is the study-group flavour of code-change, addressed by roomId.
type CodeChange struct {
	RoomID         string          `json:"roomId"`
	Code           string          `json:"code"`
	Language       string          `json:"language"`
	CursorPosition json.RawMessage `json:"cursorPosition,omitempty"`
}

type CursorPosition struct {
	RoomID   string          `json:"roomId"`
	Position json.RawMessage `json:"position"`
}

type ProblemChange struct {
	RoomID       string `json:"roomId"`
	GroupID      string `json:"groupId"`
	ProblemID    string `json:"problemId"`
	ProblemTitle string `json:"problemTitle"`
}

type ProblemSolved struct {
	RoomID       string `json:"roomId"`
	GroupID      string `json:"groupId"`
	ProblemID    string `json:"problemId"`
	ProblemTitle string `json:"problemTitle"`
}

type TypingStart struct {
	RoomID string `json:"roomId"`
}

type TypingStop struct {
	RoomID string `json:"roomId"`
}

type LeaveRoom struct {
	RoomID  string `json:"roomId"`
	GroupID string `json:"groupId"`
}

type JoinInterview struct {
	SessionID string `json:"sessionId"`
}

// InterviewCodeChange is the interview flavour of code-change, addressed by sessionId.
type InterviewCodeChange struct {
	SessionID string `json:"sessionId"`
	Code      string `json:"code"`
	Language  string `json:"language"`
}

type LanguageChange struct {
	SessionID string `json:"sessionId"`
	Language  string `json:"language"`
}

type LeaveInterview struct {
	SessionID string `json:"sessionId"`
}

func (*JoinRoom) Name() string            { return EventJoinRoom }
func (*SendMessage) Name() string         { return EventSendMessage }
func (*CodeChange) Name() string          { return EventCodeChange }
func (*CursorPosition) Name() string      { return EventCursorPosition }
func (*ProblemChange) Name() string       { return EventProblemChange }
func (*ProblemSolved) Name() string       { return EventProblemSolved }
func (*TypingStart) Name() string         { return EventTypingStart }
func (*TypingStop) Name() string          { return EventTypingStop }
func (*LeaveRoom) Name() string           { return EventLeaveRoom }
func (*JoinInterview) Name() string       { return EventJoinInterview }
func (*InterviewCodeChange) Name() string { return EventCodeChange }
func (*LanguageChange) Name() string      { return EventLanguageChange }
func (*LeaveInterview) Name() string      { return EventLeaveInterview }

func (*JoinRoom) inbound()            {}
func (*SendMessage) inbound()         {}
func (*CodeChange) inbound()          {}
func (*CursorPosition) inbound()      {}
func (*ProblemChange) inbound()       {}
func (*ProblemSolved) inbound()       {}
func (*TypingStart) inbound()         {}
func (*TypingStop) inbound()          {}
func (*LeaveRoom) inbound()           {}
func (*JoinInterview) inbound()       {}
func (*InterviewCodeChange) inbound() {}
func (*LanguageChange) inbound()      {}
func (*LeaveInterview) inbound()      {}

// DecodeEvent parses one inbound frame into its typed event and validates it.
// Every failure is a validation EventError.
func DecodeEvent(frame []byte) (InboundEvent, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, NewValidationError("Malformed event frame")
	}

	var ev InboundEvent
	switch env.Event {
	case EventJoinRoom:
		ev = &JoinRoom{}
	case EventSendMessage:
		ev = &SendMessage{}
	case EventCodeChange:
		target, err := codeChangeTarget(env.Data)
		if err != nil {
			return nil, err
		}
		ev = target
	case EventCursorPosition:
		ev = &CursorPosition{}
	case EventProblemChange:
		ev = &ProblemChange{}
	case EventProblemSolved:
		ev = &ProblemSolved{}
	case EventTypingStart:
		ev = &TypingStart{}
	case EventTypingStop:
		ev = &TypingStop{}
	case EventLeaveRoom:
		ev = &LeaveRoom{}
	case EventJoinInterview:
		sessionID, err := decodeSessionRef(env.Data)
		if err != nil {
			return nil, err
		}
		ev = &JoinInterview{SessionID: sessionID}
	case EventLanguageChange:
		ev = &LanguageChange{}
	case EventLeaveInterview:
		sessionID, err := decodeSessionRef(env.Data)
		if err != nil {
			return nil, err
		}
		ev = &LeaveInterview{SessionID: sessionID}
	case "":
		return nil, NewValidationError("Event name is required")
	default:
		return nil, NewValidationError(fmt.Sprintf("Unknown event %q", env.Event))
	}

	switch ev.(type) {
	case *JoinInterview, *LeaveInterview:
		// already decoded from the session reference
	default:
		if len(env.Data) == 0 {
			return nil, NewValidationError(fmt.Sprintf("Event %s requires a payload", env.Event))
		}
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, NewValidationError(fmt.Sprintf("Malformed %s payload", env.Event))
		}
	}

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return ev, nil
}

// codeChangeTarget picks the room flavour of a code-change by its address field.
func codeChangeTarget(data json.RawMessage) (InboundEvent, error) {
	var probe struct {
		RoomID    string `json:"roomId"`
		SessionID string `json:"sessionId"`
	}
	if len(data) == 0 || json.Unmarshal(data, &probe) != nil {
		return nil, NewValidationError("Malformed code-change payload")
	}
	switch {
	case probe.RoomID != "":
		return &CodeChange{}, nil
	case probe.SessionID != "":
		return &InterviewCodeChange{}, nil
	default:
		return nil, NewValidationError("roomId or sessionId is required")
	}
}

// decodeSessionRef accepts either a bare JSON string or {"sessionId": "..."}.
// The web client sends the bare form.
func decodeSessionRef(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", NewValidationError("sessionId is required")
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil
	}
	var obj struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", NewValidationError("Malformed session reference")
	}
	return obj.SessionID, nil
}

// Outbound payloads.

type RoomUsersPayload struct {
	Participants []Participant `json:"participants"`
	Count        int           `json:"count"`
}

type PresencePayload struct {
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Timestamp time.Time `json:"timestamp"`
}

type ReceiveMessagePayload struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Message     string    `json:"message"`
	MessageType string    `json:"messageType"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewReceiveMessagePayload renders a persisted message for delivery.
func NewReceiveMessagePayload(msg *ChatMessage) ReceiveMessagePayload {
	return ReceiveMessagePayload{
		ID:          msg.ID,
		UserID:      msg.UserID,
		Username:    msg.Username,
		Message:     msg.Text,
		MessageType: msg.Type,
		Timestamp:   msg.CreatedAt,
	}
}

type CodeUpdatedPayload struct {
	UserID         string          `json:"userId"`
	Username       string          `json:"username"`
	Code           string          `json:"code"`
	Language       string          `json:"language"`
	CursorPosition json.RawMessage `json:"cursorPosition,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

type CursorUpdatePayload struct {
	UserID   string          `json:"userId"`
	Username string          `json:"username"`
	Position json.RawMessage `json:"position"`
}

type ProblemChangedPayload struct {
	ProblemID    string    `json:"problemId"`
	ProblemTitle string    `json:"problemTitle"`
	ChangedBy    string    `json:"changedBy"`
	Timestamp    time.Time `json:"timestamp"`
}

type ProblemSolvedPayload struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	ProblemID    string    `json:"problemId"`
	ProblemTitle string    `json:"problemTitle"`
	Timestamp    time.Time `json:"timestamp"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
}

type JoinedInterviewPayload struct {
	SessionID   string `json:"sessionId"`
	ActiveUsers int    `json:"activeUsers"`
}

type ActiveUsersPayload struct {
	Count int `json:"count"`
}

type InterviewCodePayload struct {
	Code         string    `json:"code"`
	Language     string    `json:"language"`
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

type LanguageChangePayload struct {
	Language     string    `json:"language"`
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Timestamp    time.Time `json:"timestamp"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
