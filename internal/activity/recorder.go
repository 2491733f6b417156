// Package activity records member last-active times off the join path.
package activity

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"studyroom/pkg/interfaces"
)

// Touch is one last-active update
type Touch struct {
	GroupID string
	UserID  string
	At      time.Time
}

// Recorder drains last-active updates on a single goroutine
// ARCHITECTURAL DISCOVERY: Joins must never wait on the activity write, so
// touches are queued and applied in the background
type Recorder struct {
	store   interfaces.ActivityStore
	queue   chan Touch
	timeout time.Duration
	logger  logrus.FieldLogger

	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// NewRecorder creates a recorder with the given queue capacity
func NewRecorder(store interfaces.ActivityStore, buffer int, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		store:   store,
		queue:   make(chan Touch, buffer),
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

// Start begins background processing
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return ErrRecorderAlreadyRunning
	}
	r.running = true
	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})

	go r.run(ctx)
	return nil
}

// Stop flushes queued touches and waits for the worker to exit
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return ErrRecorderNotRunning
	}
	r.running = false
	close(r.shutdown)
	done := r.done
	r.mu.Unlock()

	<-done
	return nil
}

// Touch queues a last-active update without blocking
func (r *Recorder) Touch(groupID, userID string, at time.Time) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.running {
		return ErrRecorderNotRunning
	}

	// TECHNICAL DISCOVERY: Non-blocking send prevents a slow store from
	// stalling room joins
	select {
	case r.queue <- Touch{GroupID: groupID, UserID: userID, At: at}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)

	for {
		select {
		case t := <-r.queue:
			r.apply(t)
		case <-r.shutdown:
			r.drain()
			return
		case <-ctx.Done():
			r.drain()
			return
		}
	}
}

func (r *Recorder) drain() {
	for {
		select {
		case t := <-r.queue:
			r.apply(t)
		default:
			return
		}
	}
}

func (r *Recorder) apply(t Touch) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.TouchMember(ctx, t.GroupID, t.UserID, t.At); err != nil {
		r.logger.WithFields(logrus.Fields{
			"group_id": t.GroupID,
			"user_id":  t.UserID,
		}).WithError(err).Warn("Failed to record member activity")
	}
}
