package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/testutil"
	"studyroom/internal/websocket"
	"studyroom/pkg/types"
)

func setupRoom(t *testing.T) (*websocket.Registry, *testutil.MemoryStore, *testutil.FakeConn, *testutil.FakeConn) {
	t.Helper()
	registry := websocket.NewRegistry(nil)
	store := testutil.NewMemoryStore()
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	for _, c := range []*testutil.FakeConn{a, b} {
		require.NoError(t, registry.Register(c))
		_, err := registry.JoinRoom(c, "session-42", "g1", "s1")
		require.NoError(t, err)
	}
	return registry, store, a, b
}

func TestPublisher_PersistsThenBroadcastsToEveryone(t *testing.T) {
	registry, store, a, b := setupRoom(t)
	pub := NewPublisher(registry, store, nil)

	msg, err := pub.Publish(context.Background(), "session-42", &types.ChatMessage{
		GroupID: "g1", SessionID: "s1", UserID: "u1", Username: "Ann", Text: "hi", Type: types.MessageTypeText,
	}, "")
	require.NoError(t, err)

	_, err = uuid.Parse(msg.ID)
	assert.NoError(t, err, "message id should be a UUID")
	assert.False(t, msg.CreatedAt.IsZero())

	stored := store.Messages()
	require.Len(t, stored, 1)
	assert.Equal(t, msg.ID, stored[0].ID)

	for _, c := range []*testutil.FakeConn{a, b} {
		f, ok := c.Last(types.EventReceiveMessage)
		require.True(t, ok, "connection %s should receive the message", c.ID())
		assert.False(t, f.Ephemeral)

		var payload types.ReceiveMessagePayload
		require.NoError(t, testutil.Decode(f, &payload))
		assert.Equal(t, msg.ID, payload.ID)
		assert.Equal(t, "hi", payload.Message)
		assert.Equal(t, "Ann", payload.Username)
		assert.Equal(t, types.MessageTypeText, payload.MessageType)
	}
}

func TestPublisher_ExcludesConnection(t *testing.T) {
	registry, store, a, b := setupRoom(t)
	pub := NewPublisher(registry, store, nil)

	require.NoError(t, pub.PublishSystem(context.Background(), "session-42", "g1", "s1", a, "Ann joined the session", "a"))

	assert.Equal(t, 0, a.Count(types.EventReceiveMessage))
	f, ok := b.Last(types.EventReceiveMessage)
	require.True(t, ok)

	var payload types.ReceiveMessagePayload
	require.NoError(t, testutil.Decode(f, &payload))
	assert.Equal(t, types.MessageTypeSystem, payload.MessageType)
	assert.Equal(t, "u1", payload.UserID)
	assert.Equal(t, "Ann joined the session", payload.Message)

	require.Len(t, store.Messages(), 1)
	assert.Equal(t, types.MessageTypeSystem, store.Messages()[0].Type)
}

func TestPublisher_StoreFailureBroadcastsNothing(t *testing.T) {
	registry, store, a, b := setupRoom(t)
	store.FailCreate(errors.New("disk full"))
	pub := NewPublisher(registry, store, nil)

	_, err := pub.Publish(context.Background(), "session-42", &types.ChatMessage{
		GroupID: "g1", SessionID: "s1", UserID: "u1", Username: "Ann", Text: "hi", Type: types.MessageTypeText,
	}, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPersistence)
	assert.Equal(t, "Failed to send message", types.ClientMessage(err))
	assert.Equal(t, 0, a.Count(types.EventReceiveMessage))
	assert.Equal(t, 0, b.Count(types.EventReceiveMessage))
}

func TestPublisher_DeliveryOrderMatchesPersistenceOrder(t *testing.T) {
	registry, store, a, b := setupRoom(t)
	store.SlowCreate(time.Millisecond)
	pub := NewPublisher(registry, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := pub.Publish(context.Background(), "session-42", &types.ChatMessage{
				GroupID: "g1", SessionID: "s1", UserID: "u1", Username: "Ann",
				Text: fmt.Sprintf("m%d", n), Type: types.MessageTypeText,
			}, "")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored := store.Messages()
	require.Len(t, stored, 20)

	for _, c := range []*testutil.FakeConn{a, b} {
		frames := c.All(types.EventReceiveMessage)
		require.Len(t, frames, 20)
		for i, f := range frames {
			var payload types.ReceiveMessagePayload
			require.NoError(t, testutil.Decode(f, &payload))
			assert.Equal(t, stored[i].ID, payload.ID, "connection %s saw message %d out of order", c.ID(), i)
		}
	}
}
