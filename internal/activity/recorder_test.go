package activity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/testutil"
)

// blockingStore holds every TouchMember until released
type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (s *blockingStore) TouchMember(ctx context.Context, groupID, userID string, at time.Time) error {
	<-s.release
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return nil
}

func TestRecorder_StartStop(t *testing.T) {
	r := NewRecorder(testutil.NewMemoryStore(), 10, nil)

	assert.ErrorIs(t, r.Stop(), ErrRecorderNotRunning)
	require.NoError(t, r.Start(context.Background()))
	assert.ErrorIs(t, r.Start(context.Background()), ErrRecorderAlreadyRunning)
	require.NoError(t, r.Stop())
	assert.ErrorIs(t, r.Stop(), ErrRecorderNotRunning)

	// Restartable after a stop
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
}

func TestRecorder_TouchRequiresRunning(t *testing.T) {
	r := NewRecorder(testutil.NewMemoryStore(), 10, nil)
	assert.ErrorIs(t, r.Touch("g1", "u1", time.Now()), ErrRecorderNotRunning)
}

func TestRecorder_AppliesTouches(t *testing.T) {
	store := testutil.NewMemoryStore()
	r := NewRecorder(store, 10, nil)
	require.NoError(t, r.Start(context.Background()))

	at := time.Now().UTC()
	require.NoError(t, r.Touch("g1", "u1", at))
	require.NoError(t, r.Touch("g1", "u2", at))
	require.NoError(t, r.Stop())

	touches := store.Touches()
	require.Len(t, touches, 2)
	assert.Equal(t, testutil.Touch{GroupID: "g1", UserID: "u1", At: at}, touches[0])
}

func TestRecorder_QueueFullDoesNotBlock(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	r := NewRecorder(store, 1, nil)
	require.NoError(t, r.Start(context.Background()))

	var full bool
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := r.Touch("g1", "u1", time.Now()); err != nil {
			assert.ErrorIs(t, err, ErrQueueFull)
			full = true
		}
	}
	assert.True(t, full, "expected the tiny queue to overflow")
	assert.Less(t, time.Since(start), time.Second)

	close(store.release)
	require.NoError(t, r.Stop())
}

func TestRecorder_ContextCancelStopsWorker(t *testing.T) {
	store := testutil.NewMemoryStore()
	r := NewRecorder(store, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))

	require.NoError(t, r.Touch("g1", "u1", time.Now()))
	cancel()

	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit after context cancel")
	}
	assert.Len(t, store.Touches(), 1)
}
