package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// HandlerConfig configures the gateway
type HandlerConfig struct {
	Connection       ConnectionConfig
	AllowedOrigins   []string
	HandshakeTimeout time.Duration
}

// Handler is the connection gateway: it authenticates the handshake, upgrades,
// registers the connection and pumps decoded events into the router
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from room logic;
// the gateway only knows the EventRouter interface
type Handler struct {
	registry *Registry
	router   interfaces.EventRouter
	auth     *Authenticator
	upgrader websocket.Upgrader
	connCfg  ConnectionConfig
	logger   logrus.FieldLogger

	// closing and active.Add share mu so Shutdown never waits on a
	// connection it cannot see
	mu      sync.Mutex
	closing bool
	active  sync.WaitGroup
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, router interfaces.EventRouter, auth *Authenticator, cfg HandlerConfig, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	origins := NewOriginPolicy(cfg.AllowedOrigins, logger)
	return &Handler{
		registry: registry,
		router:   router,
		auth:     auth,
		upgrader: websocket.Upgrader{
			CheckOrigin:      origins.Check,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		connCfg: cfg.Connection,
		logger:  logger,
	}
}

// HandleWebSocket authenticates before upgrading so refused handshakes never
// consume a socket
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := h.auth.Authenticate(r)
	if err != nil {
		h.logger.WithField("remote_addr", r.RemoteAddr).WithError(err).Info("Refused WebSocket handshake")
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	// Hijacked sockets escape http.Server.Shutdown, so count them before upgrading
	if !h.track() {
		http.Error(w, ErrShuttingDown.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		h.active.Done()
		return
	}

	conn := NewConnection(ws, identity, h.connCfg)
	if err := h.registry.Register(conn); err != nil {
		h.logger.WithError(err).Error("Failed to register connection")
		_ = conn.Close()
		h.active.Done()
		return
	}
	if h.isClosing() {
		// Shutdown took its snapshot before this registration
		_ = conn.Close()
	}

	h.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
	}).Info("Connection established")

	go h.handleConnection(conn)
}

// track counts a new connection unless shutdown has begun
func (h *Handler) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.active.Add(1)
	return true
}

func (h *Handler) isClosing() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closing
}

// handleConnection is the per-connection reader; events from one connection
// are dispatched strictly in arrival order
func (h *Handler) handleConnection(conn *Connection) {
	log := h.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
	})

	defer func() {
		// FUNCTIONAL DISCOVERY: Deferred cleanup ensures departures are announced
		// and resources released even if dispatch panics
		if rec := recover(); rec != nil {
			log.WithField("panic", rec).Error("Recovered from panic in connection handler")
		}
		h.router.Disconnect(context.Background(), conn)
		h.registry.Unregister(conn)
		_ = conn.Close()
		log.Info("Connection closed")
		h.active.Done()
	}()

	ws := conn.conn
	ws.SetReadLimit(h.connCfg.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.connCfg.PongWait)); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.connCfg.PongWait))
	})

	// In-flight handler work outlives the socket; only membership is torn down
	ctx := context.Background()
	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.WithError(err).Debug("WebSocket read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.connCfg.PongWait))

		if messageType != websocket.TextMessage {
			h.emitError(conn, types.NewValidationError("Binary frames are not supported"))
			continue
		}

		event, err := types.DecodeEvent(data)
		if err != nil {
			h.emitError(conn, err)
			continue
		}
		h.router.Dispatch(ctx, conn, event)
	}
}

func (h *Handler) emitError(conn *Connection, err error) {
	if emitErr := conn.Emit(types.EventErrorOut, types.ErrorPayload{Message: types.ClientMessage(err)}); emitErr != nil {
		h.logger.WithField("connection_id", conn.ID()).WithError(emitErr).Debug("Failed to send error event")
	}
}

// Shutdown refuses further upgrades, closes every live connection and waits
// for their teardown to finish or ctx to expire
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	h.mu.Unlock()

	for _, conn := range h.registry.Connections() {
		_ = conn.Close()
	}

	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
