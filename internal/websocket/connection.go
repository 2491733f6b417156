package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	nanoid "github.com/jaevor/go-nanoid"

	"studyroom/pkg/types"
)

// newConnectionID produces short URL-safe ids for sockets
var newConnectionID = func() func() string {
	gen, err := nanoid.Standard(21)
	if err != nil {
		panic(fmt.Sprintf("websocket: nanoid generator: %v", err))
	}
	return gen
}()

// ConnectionConfig controls per-connection queues and heartbeat timing
type ConnectionConfig struct {
	SendBuffer      int           // reliable queue capacity
	EphemeralBuffer int           // lossy queue capacity
	WriteTimeout    time.Duration // max wait to enqueue a reliable event and to write a frame
	PingInterval    time.Duration
	PongWait        time.Duration
	MaxMessageSize  int64
}

// DefaultConnectionConfig returns the production queue and heartbeat settings
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		SendBuffer:      100,
		EphemeralBuffer: 32,
		WriteTimeout:    5 * time.Second,
		PingInterval:    30 * time.Second,
		PongWait:        60 * time.Second,
		MaxMessageSize:  types.MaxCodeSize + 64*1024,
	}
}

// Connection implements the interfaces.Connection interface
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent race conditions
// Interface boundary maintained - no business logic in connection wrapper
type Connection struct {
	conn        *websocket.Conn
	id          string
	userID      string
	displayName string
	connectedAt time.Time
	cfg         ConnectionConfig

	sendCh      chan []byte // reliable, never drops
	ephemeralCh chan []byte // lossy, drops oldest when full
	ephemeralMu sync.Mutex  // serializes drop-oldest producers
	dropped     atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps an upgraded socket bound to an authenticated identity
// and starts its writer goroutine
func NewConnection(conn *websocket.Conn, identity Identity, cfg ConnectionConfig) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:        conn,
		id:          newConnectionID(),
		userID:      identity.UserID,
		displayName: identity.DisplayName,
		connectedAt: time.Now().UTC(),
		cfg:         cfg,
		sendCh:      make(chan []byte, cfg.SendBuffer),
		ephemeralCh: make(chan []byte, cfg.EphemeralBuffer),
		ctx:         ctx,
		cancel:      cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) UserID() string         { return c.userID }
func (c *Connection) DisplayName() string    { return c.displayName }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Dropped returns how many ephemeral events were discarded for this client
func (c *Connection) Dropped() uint64 { return c.dropped.Load() }

// Done is closed once the connection shuts down
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// ARCHITECTURAL DISCOVERY: Single writer goroutine pattern eliminates races.
// Pings go through the same loop so every frame has exactly one writer.
func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		// Reliable events are drained ahead of ephemeral ones
		select {
		case data := <-c.sendCh:
			if !c.writeFrame(websocket.TextMessage, data) {
				return
			}
			continue
		default:
		}

		select {
		case data := <-c.sendCh:
			if !c.writeFrame(websocket.TextMessage, data) {
				return
			}
		case data := <-c.ephemeralCh:
			if !c.writeFrame(websocket.TextMessage, data) {
				return
			}
		case <-ticker.C:
			if !c.writeFrame(websocket.PingMessage, nil) {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) writeFrame(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout)); err != nil {
		_ = c.Close()
		return false
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		_ = c.Close()
		return false
	}
	return true
}

// Emit queues a reliable event, blocking up to the write timeout
func (c *Connection) Emit(event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.cfg.WriteTimeout)
	defer timer.Stop()

	select {
	case c.sendCh <- data:
		return nil
	case <-timer.C:
		// A client that cannot keep up with reliable events is dropped; it
		// reloads history when it reconnects
		_ = c.Close()
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// EmitEphemeral queues a lossy event; a full queue sheds its oldest entry
func (c *Connection) EmitEphemeral(event string, payload any) error {
	data, err := encodeFrame(event, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	c.ephemeralMu.Lock()
	defer c.ephemeralMu.Unlock()

	for {
		select {
		case c.ephemeralCh <- data:
			return nil
		default:
		}
		select {
		case <-c.ephemeralCh:
			c.dropped.Add(1)
		default:
		}
	}
}

// ARCHITECTURAL DISCOVERY: Clean shutdown requires careful goroutine coordination
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(types.Frame{Event: event, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return data, nil
}
