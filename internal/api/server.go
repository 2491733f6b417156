package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// MaxHistoryLimit caps the messages endpoint's limit parameter
const MaxHistoryLimit = 1000

// Registry interface to avoid tight coupling to websocket.Registry implementation
type Registry interface {
	Participants(roomID string) []types.Participant
	InterviewCount(sessionID string) int
	GetStats() map[string]int
}

// RoleInvalidator drops a cached role after the membership changes
type RoleInvalidator interface {
	Invalidate(ctx context.Context, groupID, userID string) error
}

// Options tune the server; zero values take defaults.
// The membership and problem write routes exist only when AdminToken is set.
type Options struct {
	HistoryLimit int
	Roles        RoleInvalidator
	AdminToken   string
	Logger       logrus.FieldLogger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	dbManager    interfaces.DatabaseManager
	registry     Registry
	roles        RoleInvalidator
	adminToken   string
	historyLimit int
	logger       logrus.FieldLogger
	startedAt    time.Time
	router       *http.ServeMux
}

// FUNCTIONAL DISCOVERY: Constructor initializes all dependencies and sets up routing
// Dependency injection pattern maintains architectural boundaries
func NewServer(dbManager interfaces.DatabaseManager, registry Registry, opts Options) *Server {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 200
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	s := &Server{
		dbManager:    dbManager,
		registry:     registry,
		roles:        opts.Roles,
		adminToken:   opts.AdminToken,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger,
		startedAt:    time.Now(),
		router:       http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all routes for web client compatibility
func (s *Server) setupRoutes() {
	s.handle("GET /health", s.healthCheck)
	s.handle("GET /api/rooms/{roomId}", s.getRoom)
	s.handle("GET /api/interviews/{sessionId}", s.getInterview)
	s.handle("GET /api/groups/{groupId}/sessions/{sessionId}/messages", s.getMessages)
	s.handle("GET /api/groups/{groupId}/progress/{problemId}", s.getProgress)
	if s.adminToken != "" {
		s.handle("PUT /api/groups/{groupId}/members/{userId}", s.requireAdmin(s.putMember))
		s.handle("PUT /api/problems/{problemId}", s.requireAdmin(s.putProblem))
	}
	// Preflight requests never reach a method-specific pattern
	s.router.Handle("OPTIONS /", s.corsMiddleware(http.NotFoundHandler()))
}

func (s *Server) handle(pattern string, handler http.HandlerFunc) {
	s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(handler)))
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Request/Response types for JSON serialization
type RoomResponse struct {
	RoomID       string              `json:"room_id"`
	Participants []types.Participant `json:"participants"`
	Count        int                 `json:"count"`
}

type InterviewResponse struct {
	SessionID   string `json:"session_id"`
	ActiveUsers int    `json:"active_users"`
}

type MessagesResponse struct {
	Messages []*types.ChatMessage `json:"messages"`
}

type MemberRequest struct {
	Role string `json:"role"`
}

type ProblemRequest struct {
	Title string `json:"title"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	System      map[string]any `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/rooms/{roomId} - live participants of a study room
func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := r.PathValue("roomId")
	participants := s.registry.Participants(roomID)
	if participants == nil {
		participants = []types.Participant{}
	}
	s.sendJSON(w, http.StatusOK, RoomResponse{
		RoomID:       roomID,
		Participants: participants,
		Count:        len(participants),
	})
}

// GET /api/interviews/{sessionId}
func (s *Server) getInterview(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("sessionId")
	s.sendJSON(w, http.StatusOK, InterviewResponse{
		SessionID:   sessionID,
		ActiveUsers: s.registry.InterviewCount(sessionID),
	})
}

// FUNCTIONAL DISCOVERY: History is loaded by the web client before it joins the room;
// messages come back in insertion order, newest limit entries
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	limit := s.historyLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxHistoryLimit)
	}

	messages, err := s.dbManager.GetSessionMessages(r.Context(), r.PathValue("groupId"), r.PathValue("sessionId"), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to load chat history")
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.ChatMessage{}
	}
	s.sendJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.dbManager.GetProgress(r.Context(), r.PathValue("groupId"), r.PathValue("problemId"))
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			s.sendError(w, "Progress not found", http.StatusNotFound)
			return
		}
		s.logger.WithError(err).Error("Failed to load progress")
		s.sendError(w, "Failed to load progress", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, progress)
}

// PUT /api/groups/{groupId}/members/{userId} - role "none" removes the membership
func (s *Server) putMember(w http.ResponseWriter, r *http.Request) {
	var req MemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	role := types.ParseRole(req.Role)
	if !role.IsMember() && req.Role != string(types.RoleNone) {
		s.sendError(w, "role must be admin, moderator, member or none", http.StatusBadRequest)
		return
	}

	groupID, userID := r.PathValue("groupId"), r.PathValue("userId")
	if err := s.dbManager.UpsertMember(r.Context(), groupID, userID, role); err != nil {
		s.logger.WithError(err).Error("Failed to update membership")
		s.sendError(w, "Failed to update membership", http.StatusInternalServerError)
		return
	}
	if s.roles != nil {
		if err := s.roles.Invalidate(r.Context(), groupID, userID); err != nil {
			s.logger.WithFields(logrus.Fields{
				"group_id": groupID,
				"user_id":  userID,
			}).WithError(err).Warn("Failed to invalidate cached role")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"group_id": groupID,
		"user_id":  userID,
		"role":     role,
	}).Info("Membership updated")
	s.sendJSON(w, http.StatusOK, map[string]string{"group_id": groupID, "user_id": userID, "role": string(role)})
}

func (s *Server) putProblem(w http.ResponseWriter, r *http.Request) {
	var req ProblemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		s.sendError(w, "title is required", http.StatusBadRequest)
		return
	}

	problemID := r.PathValue("problemId")
	if err := s.dbManager.UpsertProblem(r.Context(), problemID, req.Title); err != nil {
		s.logger.WithError(err).Error("Failed to update problem")
		s.sendError(w, "Failed to update problem", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, http.StatusOK, map[string]string{"problem_id": problemID, "title": req.Title})
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.dbManager.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now(),
		Database:    dbStatus,
		Connections: s.registry.GetStats(),
		System: map[string]any{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.sendJSON(w, code, response)
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("Failed to write response")
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAdmin admits requests carrying the configured admin token as a Bearer credential
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Get("Authorization")
		token := ""
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			token = strings.TrimSpace(h[7:])
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			s.logger.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Warn("Rejected unauthenticated admin request")
			s.sendError(w, "Admin token required", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
