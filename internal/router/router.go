package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"studyroom/internal/chat"
	"studyroom/internal/interview"
	"studyroom/internal/membership"
	"studyroom/internal/websocket"
	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

// Dependencies are the collaborators a Router dispatches to
type Dependencies struct {
	Registry   *websocket.Registry
	Membership *membership.Manager
	Interview  *interview.Manager
	Publisher  *chat.Publisher
	Roles      interfaces.MembershipLookup
	Progress   interfaces.ProgressStore
	Problems   interfaces.ProblemLookup
	Limiter    *RateLimiter
	Logger     logrus.FieldLogger
}

// Router implements the EventRouter interface
// ARCHITECTURAL DISCOVERY: Pure routing logic without connection handling;
// room state lives in the registry and the membership managers
type Router struct {
	registry   *websocket.Registry
	membership *membership.Manager
	interview  *interview.Manager
	publisher  *chat.Publisher
	roles      interfaces.MembershipLookup
	progress   interfaces.ProgressStore
	problems   interfaces.ProblemLookup
	limiter    *RateLimiter
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewRouter creates a new event router
func NewRouter(deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NewRateLimiter(DefaultRateLimit, DefaultRateWindow)
	}
	return &Router{
		registry:   deps.Registry,
		membership: deps.Membership,
		interview:  deps.Interview,
		publisher:  deps.Publisher,
		roles:      deps.Roles,
		progress:   deps.Progress,
		problems:   deps.Problems,
		limiter:    limiter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch runs the handler for ev. A failing handler produces exactly one
// error event on conn; the connection stays open.
func (r *Router) Dispatch(ctx context.Context, conn interfaces.Connection, ev types.InboundEvent) {
	err := r.route(ctx, conn, ev)
	if err == nil {
		return
	}

	log := r.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
		"event":         ev.Name(),
	}).WithError(err)
	switch {
	case errors.Is(err, types.ErrPersistence):
		log.Error("Event handler failed")
	case errors.Is(err, types.ErrAuthorization), errors.Is(err, types.ErrRateLimited):
		log.Warn("Event refused")
	default:
		log.Debug("Event refused")
	}

	if emitErr := conn.Emit(types.EventErrorOut, types.ErrorPayload{Message: types.ClientMessage(err)}); emitErr != nil {
		log.WithField("emit_error", emitErr.Error()).Debug("Failed to deliver error event")
	}
}

// Disconnect tears down study and interview membership for a closed connection
func (r *Router) Disconnect(ctx context.Context, conn interfaces.Connection) {
	r.membership.Disconnect(ctx, conn)
	r.interview.Disconnect(ctx, conn)
}

func (r *Router) route(ctx context.Context, conn interfaces.Connection, ev types.InboundEvent) error {
	switch e := ev.(type) {
	case *types.JoinRoom:
		return r.membership.Join(ctx, conn, e.RoomID, e.GroupID, e.SessionID)
	case *types.SendMessage:
		return r.handleSendMessage(ctx, conn, e)
	case *types.CodeChange:
		return r.handleCodeChange(conn, e)
	case *types.CursorPosition:
		return r.handleCursorPosition(conn, e)
	case *types.TypingStart:
		return r.relayTyping(conn, e.RoomID, types.EventUserTyping)
	case *types.TypingStop:
		return r.relayTyping(conn, e.RoomID, types.EventUserStoppedTyping)
	case *types.ProblemChange:
		return r.handleProblemChange(ctx, conn, e)
	case *types.ProblemSolved:
		return r.handleProblemSolved(ctx, conn, e)
	case *types.LeaveRoom:
		r.membership.Leave(ctx, conn, e.RoomID)
		return nil
	case *types.JoinInterview:
		return r.interview.Join(ctx, conn, e.SessionID)
	case *types.InterviewCodeChange:
		return r.interview.CodeChange(ctx, conn, e)
	case *types.LanguageChange:
		return r.interview.LanguageChange(ctx, conn, e)
	case *types.LeaveInterview:
		r.interview.Leave(ctx, conn, e.SessionID)
		return nil
	default:
		return &types.EventError{Kind: types.ErrValidation, Message: "Unsupported event", Cause: ErrUnsupportedEvent}
	}
}

// requireRoom checks that conn is in roomID and, when given, that groupID and
// sessionID name the same room. It returns the room's recorded group and session.
func (r *Router) requireRoom(conn interfaces.Connection, roomID, groupID, sessionID string) (string, string, error) {
	roomGroup, roomSession, ok := r.registry.RoomInfo(roomID)
	if !ok || !r.registry.IsRoomMember(roomID, conn.ID()) {
		return "", "", &types.EventError{Kind: types.ErrNotMember, Message: "You are not in this room", Cause: ErrNotInRoom}
	}
	if groupID != "" && groupID != roomGroup {
		return "", "", &types.EventError{Kind: types.ErrValidation, Message: "Room belongs to a different group", Cause: ErrRoomMismatch}
	}
	if sessionID != "" && sessionID != roomSession {
		return "", "", &types.EventError{Kind: types.ErrValidation, Message: "Room belongs to a different session", Cause: ErrRoomMismatch}
	}
	return roomGroup, roomSession, nil
}

// FUNCTIONAL DISCOVERY: Rate limiting applied per user before persistence to prevent spam
func (r *Router) handleSendMessage(ctx context.Context, conn interfaces.Connection, e *types.SendMessage) error {
	groupID, sessionID, err := r.requireRoom(conn, e.RoomID, e.GroupID, e.SessionID)
	if err != nil {
		return err
	}
	if !r.limiter.Allow(conn.UserID()) {
		return &types.EventError{Kind: types.ErrRateLimited, Message: "You are sending messages too quickly", Cause: ErrRateLimitExceeded}
	}

	_, err = r.publisher.Publish(ctx, e.RoomID, &types.ChatMessage{
		GroupID:   groupID,
		SessionID: sessionID,
		UserID:    conn.UserID(),
		Username:  conn.DisplayName(),
		Text:      e.Message,
		Type:      e.MessageType,
	}, "")
	return err
}

func (r *Router) handleCodeChange(conn interfaces.Connection, e *types.CodeChange) error {
	if _, _, err := r.requireRoom(conn, e.RoomID, "", ""); err != nil {
		return err
	}
	r.registry.BroadcastEphemeral(e.RoomID, types.EventCodeUpdated, types.CodeUpdatedPayload{
		UserID:         conn.UserID(),
		Username:       conn.DisplayName(),
		Code:           e.Code,
		Language:       e.Language,
		CursorPosition: e.CursorPosition,
		Timestamp:      r.now(),
	}, conn.ID())
	return nil
}

func (r *Router) handleCursorPosition(conn interfaces.Connection, e *types.CursorPosition) error {
	if _, _, err := r.requireRoom(conn, e.RoomID, "", ""); err != nil {
		return err
	}
	r.registry.BroadcastEphemeral(e.RoomID, types.EventCursorUpdate, types.CursorUpdatePayload{
		UserID:   conn.UserID(),
		Username: conn.DisplayName(),
		Position: e.Position,
	}, conn.ID())
	return nil
}

func (r *Router) relayTyping(conn interfaces.Connection, roomID, event string) error {
	if _, _, err := r.requireRoom(conn, roomID, "", ""); err != nil {
		return err
	}
	payload := types.TypingPayload{UserID: conn.UserID()}
	if event == types.EventUserTyping {
		payload.Username = conn.DisplayName()
	}
	r.registry.BroadcastEphemeral(roomID, event, payload, conn.ID())
	return nil
}

// handleProblemChange is restricted to admins and moderators; a refusal
// broadcasts nothing
func (r *Router) handleProblemChange(ctx context.Context, conn interfaces.Connection, e *types.ProblemChange) error {
	groupID, sessionID, err := r.requireRoom(conn, e.RoomID, e.GroupID, "")
	if err != nil {
		return err
	}

	role, err := r.roles.Role(ctx, groupID, conn.UserID())
	if err != nil {
		return types.NewPersistenceError("Failed to change problem", fmt.Errorf("role lookup: %w", err))
	}
	if !role.CanChangeProblem() {
		return types.NewAuthorizationError("Only admins and moderators can change problems")
	}

	title := r.resolveTitle(ctx, e.ProblemID, e.ProblemTitle)
	r.registry.Broadcast(e.RoomID, types.EventProblemChanged, types.ProblemChangedPayload{
		ProblemID:    e.ProblemID,
		ProblemTitle: title,
		ChangedBy:    conn.DisplayName(),
		Timestamp:    r.now(),
	}, "")

	text := fmt.Sprintf("%s changed the problem to: %s", conn.DisplayName(), title)
	return r.publisher.PublishSystem(ctx, e.RoomID, groupID, sessionID, conn, text, "")
}

// handleProblemSolved records the solver and announces it on every call,
// including repeats by the same user
func (r *Router) handleProblemSolved(ctx context.Context, conn interfaces.Connection, e *types.ProblemSolved) error {
	groupID, sessionID, err := r.requireRoom(conn, e.RoomID, e.GroupID, "")
	if err != nil {
		return err
	}

	progress, err := r.progress.AddSolver(ctx, groupID, e.ProblemID, conn.UserID())
	if err != nil {
		return types.NewPersistenceError("Failed to record progress", fmt.Errorf("add solver: %w", err))
	}
	r.logger.WithFields(logrus.Fields{
		"group_id":   groupID,
		"problem_id": e.ProblemID,
		"user_id":    conn.UserID(),
		"solvers":    len(progress.SolvedBy),
	}).Info("Problem solved")

	title := r.resolveTitle(ctx, e.ProblemID, e.ProblemTitle)
	r.registry.Broadcast(e.RoomID, types.EventUserSolvedProblem, types.ProblemSolvedPayload{
		UserID:       conn.UserID(),
		Username:     conn.DisplayName(),
		ProblemID:    e.ProblemID,
		ProblemTitle: title,
		Timestamp:    r.now(),
	}, "")

	text := fmt.Sprintf("🎉 %s solved the problem!", conn.DisplayName())
	return r.publisher.PublishSystem(ctx, e.RoomID, groupID, sessionID, conn, text, "")
}

// resolveTitle prefers the client's title, then the problem catalogue, then the id
func (r *Router) resolveTitle(ctx context.Context, problemID, given string) string {
	if given != "" {
		return given
	}
	if r.problems != nil {
		title, err := r.problems.ProblemTitle(ctx, problemID)
		switch {
		case err == nil && title != "":
			return title
		case err != nil && !errors.Is(err, interfaces.ErrNotFound):
			r.logger.WithField("problem_id", problemID).WithError(err).Warn("Problem lookup failed")
		}
	}
	return problemID
}
