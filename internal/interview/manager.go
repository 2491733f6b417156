// Package interview implements one-on-one interview rooms: presence counts
// and last-write-wins relay of code and language changes.
package interview

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"studyroom/internal/websocket"
	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

type Manager struct {
	registry *websocket.Registry
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewManager(registry *websocket.Registry, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		registry: registry,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Join moves conn into sessionID, leaving any other interview room first.
// The room learns the new count before the joiner is acknowledged.
func (m *Manager) Join(ctx context.Context, conn interfaces.Connection, sessionID string) error {
	res, err := m.registry.JoinInterview(conn, sessionID)
	if err != nil {
		return fmt.Errorf("join interview: %w", err)
	}

	if res.PreviousSession != "" {
		m.broadcastCount(res.PreviousSession, res.PreviousRemaining)
	}
	if !res.AlreadyMember {
		m.broadcastCount(sessionID, res.Count)
	}

	m.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
		"session_id":    sessionID,
		"active_users":  res.Count,
	}).Info("Joined interview")

	return conn.Emit(types.EventJoinedInterview, types.JoinedInterviewPayload{
		SessionID:   sessionID,
		ActiveUsers: res.Count,
	})
}

// CodeChange relays the editor buffer to the other participants
func (m *Manager) CodeChange(ctx context.Context, conn interfaces.Connection, ev *types.InterviewCodeChange) error {
	if !m.registry.InInterview(ev.SessionID, conn.ID()) {
		return types.NewNotMemberError("You are not in this interview")
	}
	m.registry.BroadcastInterview(ev.SessionID, types.EventCodeUpdate, types.InterviewCodePayload{
		Code:         ev.Code,
		Language:     ev.Language,
		UserID:       conn.UserID(),
		ConnectionID: conn.ID(),
		Timestamp:    m.now(),
	}, conn.ID(), true)
	return nil
}

// LanguageChange relays the selected language to the other participants
func (m *Manager) LanguageChange(ctx context.Context, conn interfaces.Connection, ev *types.LanguageChange) error {
	if !m.registry.InInterview(ev.SessionID, conn.ID()) {
		return types.NewNotMemberError("You are not in this interview")
	}
	m.registry.BroadcastInterview(ev.SessionID, types.EventLanguageChange, types.LanguageChangePayload{
		Language:     ev.Language,
		UserID:       conn.UserID(),
		ConnectionID: conn.ID(),
		Timestamp:    m.now(),
	}, conn.ID(), true)
	return nil
}

// Leave removes conn from sessionID; an empty sessionID means its current
// interview room. Leaving twice is a no-op.
func (m *Manager) Leave(ctx context.Context, conn interfaces.Connection, sessionID string) {
	left, remaining, ok := m.registry.LeaveInterview(conn, sessionID)
	if !ok {
		return
	}
	m.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"session_id":    left,
	}).Info("Left interview")
	m.broadcastCount(left, remaining)
}

// Disconnect removes conn from whatever interview room it occupies
func (m *Manager) Disconnect(ctx context.Context, conn interfaces.Connection) {
	m.Leave(ctx, conn, "")
}

// broadcastCount skips rooms that emptied; they no longer exist
func (m *Manager) broadcastCount(sessionID string, count int) {
	if count == 0 {
		return
	}
	m.registry.BroadcastInterview(sessionID, types.EventActiveUsers, types.ActiveUsersPayload{Count: count}, "", false)
}
