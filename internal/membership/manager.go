// Package membership admits connections into study-group rooms and announces
// arrivals and departures.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"studyroom/internal/chat"
	"studyroom/internal/websocket"
	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// ActivityRecorder queues last-active updates without blocking
type ActivityRecorder interface {
	Touch(groupID, userID string, at time.Time) error
}

// Manager implements join, leave and disconnect for study-group rooms
type Manager struct {
	registry  *websocket.Registry
	lookup    interfaces.MembershipLookup
	publisher *chat.Publisher
	activity  ActivityRecorder
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewManager creates a membership manager; activity may be nil
func NewManager(registry *websocket.Registry, lookup interfaces.MembershipLookup, publisher *chat.Publisher, activity ActivityRecorder, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		registry:  registry,
		lookup:    lookup,
		publisher: publisher,
		activity:  activity,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Join admits conn into roomID after checking group membership. The joiner
// gets room-users; everyone else gets user-joined and a system message.
func (m *Manager) Join(ctx context.Context, conn interfaces.Connection, roomID, groupID, sessionID string) error {
	log := m.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
		"room_id":       roomID,
		"group_id":      groupID,
	})

	role, err := m.lookup.Role(ctx, groupID, conn.UserID())
	if err != nil {
		log.WithError(err).Error("Membership lookup failed")
		return types.NewPersistenceError("Failed to join room", err)
	}
	if !role.IsMember() {
		return types.NewNotMemberError("You are not a member of this group")
	}

	res, err := m.registry.JoinRoom(conn, roomID, groupID, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, websocket.ErrRoomGroupMismatch):
			return types.NewValidationError("Room belongs to a different group")
		case errors.Is(err, websocket.ErrRoomSessionMismatch):
			return types.NewValidationError("Room belongs to a different session")
		}
		return fmt.Errorf("join room: %w", err)
	}

	if res.AlreadyMember {
		return m.sendRoomUsers(conn, roomID)
	}

	if res.Moved {
		m.announceDeparture(ctx, conn, res.Previous, res.PreviousRemaining, "left the session")
	}

	now := m.now()
	if m.activity != nil {
		if err := m.activity.Touch(groupID, conn.UserID(), now); err != nil {
			log.WithError(err).Debug("Skipped last-active update")
		}
	}

	if err := m.sendRoomUsers(conn, roomID); err != nil {
		log.WithError(err).Debug("Failed to send room-users")
	}

	m.registry.Broadcast(roomID, types.EventUserJoined, types.PresencePayload{
		UserID:    conn.UserID(),
		Username:  conn.DisplayName(),
		Timestamp: now,
	}, conn.ID())

	log.Info("Joined room")

	return m.publisher.PublishSystem(ctx, roomID, groupID, sessionID, conn,
		fmt.Sprintf("%s joined the session", conn.DisplayName()), conn.ID())
}

// Leave removes conn from roomID. Leaving a room you are not in is a no-op.
func (m *Manager) Leave(ctx context.Context, conn interfaces.Connection, roomID string) {
	left, remaining, ok := m.registry.LeaveRoom(conn, roomID)
	if !ok {
		return
	}
	m.announceDeparture(ctx, conn, left, remaining, "left the session")
}

// Disconnect removes conn from its study room, if any
func (m *Manager) Disconnect(ctx context.Context, conn interfaces.Connection) {
	left, remaining, ok := m.registry.LeaveRoom(conn, "")
	if !ok {
		return
	}
	m.announceDeparture(ctx, conn, left, remaining, "disconnected")
}

func (m *Manager) sendRoomUsers(conn interfaces.Connection, roomID string) error {
	participants := m.registry.Participants(roomID)
	return conn.Emit(types.EventRoomUsers, types.RoomUsersPayload{
		Participants: participants,
		Count:        len(participants),
	})
}

// announceDeparture tells the members left behind. Empty rooms are already
// gone and need no announcement.
func (m *Manager) announceDeparture(ctx context.Context, conn interfaces.Connection, left websocket.Placement, remaining int, verb string) {
	log := m.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
		"room_id":       left.RoomID,
	})
	log.Info("Left room")

	if remaining == 0 {
		return
	}

	m.registry.Broadcast(left.RoomID, types.EventUserLeft, types.PresencePayload{
		UserID:    conn.UserID(),
		Username:  conn.DisplayName(),
		Timestamp: m.now(),
	}, conn.ID())

	text := fmt.Sprintf("%s %s", conn.DisplayName(), verb)
	if err := m.publisher.PublishSystem(ctx, left.RoomID, left.GroupID, left.SessionID, conn, text, conn.ID()); err != nil {
		log.WithError(err).Warn("Failed to publish departure message")
	}
}
