package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Payload limits.
const (
	MaxMessageLength = 2000
	MaxCodeSize      = 256 * 1024
	MaxTitleLength   = 200
	MaxLanguageLen   = 50
	MaxIDLength      = 128
	MaxUserIDLength  = 50
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	idRegex     = regexp.MustCompile(`^[a-zA-Z0-9_.:-]+$`)
)

// IsValidUserID checks if a user ID meets format requirements
// FUNCTIONAL DISCOVERY: 1-50 character limit prevents database issues
// and ensures reasonable display in UI components
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > MaxUserIDLength {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidID checks room, group, session and problem identifiers.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > MaxIDLength {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidDisplayName accepts any non-blank name up to 100 characters.
func IsValidDisplayName(name string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	return n >= 1 && n <= 100
}

// IsClientMessageType reports whether a client may send messages of this type.
// System messages are server-composed only.
func IsClientMessageType(t string) bool {
	return t == MessageTypeText || t == MessageTypeCode
}

func requireID(field, value string) error {
	if value == "" {
		return NewValidationError(field + " is required")
	}
	if !IsValidID(value) {
		return NewValidationError("Invalid " + field)
	}
	return nil
}

func requireSize(field, value string, max int) error {
	if len(value) > max {
		return NewValidationError(fmt.Sprintf("%s exceeds %d bytes", field, max))
	}
	return nil
}

func (e *JoinRoom) Validate() error {
	if err := requireID("roomId", e.RoomID); err != nil {
		return err
	}
	if err := requireID("groupId", e.GroupID); err != nil {
		return err
	}
	return requireID("sessionId", e.SessionID)
}

// Validate defaults an empty messageType to text and enforces the 1-2000
// character bound on the trimmed message.
func (e *SendMessage) Validate() error {
	if err := requireID("roomId", e.RoomID); err != nil {
		return err
	}
	if err := requireID("groupId", e.GroupID); err != nil {
		return err
	}
	if err := requireID("sessionId", e.SessionID); err != nil {
		return err
	}
	if e.MessageType == "" {
		e.MessageType = MessageTypeText
	}
	if !IsClientMessageType(e.MessageType) {
		return NewValidationError("messageType must be text or code")
	}
	n := utf8.RuneCountInString(strings.TrimSpace(e.Message))
	if n == 0 {
		return NewValidationError("Message cannot be empty")
	}
	if utf8.RuneCountInString(e.Message) > MaxMessageLength {
		return NewValidationError(fmt.Sprintf("Message cannot exceed %d characters", MaxMessageLength))
	}
	return nil
}

func (e *CodeChange) Validate() error {
	if err := requireID("roomId", e.RoomID); err != nil {
		return err
	}
	if err := requireSize("code", e.Code, MaxCodeSize); err != nil {
		return err
	}
	return requireSize("language", e.Language, MaxLanguageLen)
}

func (e *CursorPosition) Validate() error {
	if err := requireID("roomId", e.RoomID); err != nil {
		return err
	}
	if len(e.Position) == 0 {
		return NewValidationError("position is required")
	}
	return nil
}

func (e *ProblemChange) Validate() error {
	if err := requireID("roomId", e.RoomID); err != nil {
		return err
	}
	if err := requireID("groupId", e.GroupID); err != nil {
		return err
	}
	if err := requireID("problemId", e.ProblemID); err != nil {
		return err
	}
	return requireSize("problemTitle", e.ProblemTitle, MaxTitleLength)
}

func (e *ProblemSolved) Validate() error {
	if err := requireID("roomId", e.RoomID); err != nil {
		return err
	}
	if err := requireID("groupId", e.GroupID); err != nil {
		return err
	}
	if err := requireID("problemId", e.ProblemID); err != nil {
		return err
	}
	return requireSize("problemTitle", e.ProblemTitle, MaxTitleLength)
}

func (e *TypingStart) Validate() error { return requireID("roomId", e.RoomID) }

func (e *TypingStop) Validate() error { return requireID("roomId", e.RoomID) }

// Validate requires only roomId; groupId is informational on leave.
func (e *LeaveRoom) Validate() error { return requireID("roomId", e.RoomID) }

func (e *JoinInterview) Validate() error { return requireID("sessionId", e.SessionID) }

func (e *InterviewCodeChange) Validate() error {
	if err := requireID("sessionId", e.SessionID); err != nil {
		return err
	}
	if err := requireSize("code", e.Code, MaxCodeSize); err != nil {
		return err
	}
	return requireSize("language", e.Language, MaxLanguageLen)
}

func (e *LanguageChange) Validate() error {
	if err := requireID("sessionId", e.SessionID); err != nil {
		return err
	}
	if e.Language == "" {
		return NewValidationError("language is required")
	}
	return requireSize("language", e.Language, MaxLanguageLen)
}

func (e *LeaveInterview) Validate() error { return requireID("sessionId", e.SessionID) }
