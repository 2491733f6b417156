// Package testutil holds in-memory collaborators shared by package tests.
package testutil

import (
	"encoding/json"
	"sync"
	"time"
)

// Frame is one event captured by a FakeConn
type Frame struct {
	Event     string
	Payload   any
	Ephemeral bool
}

// FakeConn records outbound events instead of writing to a socket
type FakeConn struct {
	id          string
	userID      string
	displayName string
	connectedAt time.Time

	mu      sync.Mutex
	frames  []Frame
	closed  bool
	emitErr error
}

func NewFakeConn(id, userID, displayName string) *FakeConn {
	return &FakeConn{id: id, userID: userID, displayName: displayName, connectedAt: time.Now()}
}

func (c *FakeConn) ID() string             { return c.id }
func (c *FakeConn) UserID() string         { return c.userID }
func (c *FakeConn) DisplayName() string    { return c.displayName }
func (c *FakeConn) ConnectedAt() time.Time { return c.connectedAt }

func (c *FakeConn) Emit(event string, payload any) error {
	return c.record(event, payload, false)
}

func (c *FakeConn) EmitEphemeral(event string, payload any) error {
	return c.record(event, payload, true)
}

func (c *FakeConn) record(event string, payload any, ephemeral bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.emitErr != nil {
		return c.emitErr
	}
	c.frames = append(c.frames, Frame{Event: event, Payload: payload, Ephemeral: ephemeral})
	return nil
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// FailEmits makes every later Emit return err
func (c *FakeConn) FailEmits(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitErr = err
}

func (c *FakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns a copy of everything emitted so far
func (c *FakeConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Events returns the emitted event names in order
func (c *FakeConn) Events() []string {
	frames := c.Frames()
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

// Count returns how many times event was emitted
func (c *FakeConn) Count(event string) int {
	n := 0
	for _, f := range c.Frames() {
		if f.Event == event {
			n++
		}
	}
	return n
}

// Last returns the most recent frame for event
func (c *FakeConn) Last(event string) (Frame, bool) {
	frames := c.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Event == event {
			return frames[i], true
		}
	}
	return Frame{}, false
}

// All returns every frame for event in order
func (c *FakeConn) All(event string) []Frame {
	var out []Frame
	for _, f := range c.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

// Reset forgets captured frames
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// Decode round-trips a captured payload through JSON into v, the way a
// client would see it
func Decode(f Frame, v any) error {
	data, err := json.Marshal(f.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
