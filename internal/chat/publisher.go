// Package chat implements persist-then-broadcast delivery of room messages.
package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"studyroom/internal/websocket"
	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// Publisher stores a chat message and only then fans it out. Both steps run
// under the room's publish lock, so every member observes messages in the
// order their writes completed.
type Publisher struct {
	registry *websocket.Registry
	store    interfaces.MessageStore
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewPublisher(registry *websocket.Registry, store interfaces.MessageStore, logger logrus.FieldLogger) *Publisher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Publisher{
		registry: registry,
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Publish assigns the message id and timestamp, persists it and broadcasts
// receive-message to roomID. excludeID, when set, is skipped. Nothing is
// broadcast if the write fails.
func (p *Publisher) Publish(ctx context.Context, roomID string, msg *types.ChatMessage, excludeID string) (*types.ChatMessage, error) {
	msg.ID = uuid.NewString()
	msg.CreatedAt = p.now()

	var err error
	p.registry.Publish(roomID, func() {
		if err = p.store.CreateMessage(ctx, msg); err != nil {
			return
		}
		p.registry.Broadcast(roomID, types.EventReceiveMessage, types.NewReceiveMessagePayload(msg), excludeID)
	})
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"room_id":  roomID,
			"user_id":  msg.UserID,
			"msg_type": msg.Type,
		}).WithError(err).Error("Failed to persist chat message")
		return nil, types.NewPersistenceError("Failed to send message", fmt.Errorf("create message: %w", err))
	}
	return msg, nil
}

// PublishSystem persists and broadcasts a server-composed line attributed to
// the acting user
func (p *Publisher) PublishSystem(ctx context.Context, roomID, groupID, sessionID string, actor interfaces.Connection, text, excludeID string) error {
	_, err := p.Publish(ctx, roomID, &types.ChatMessage{
		GroupID:   groupID,
		SessionID: sessionID,
		UserID:    actor.UserID(),
		Username:  actor.DisplayName(),
		Text:      text,
		Type:      types.MessageTypeSystem,
	}, excludeID)
	return err
}
