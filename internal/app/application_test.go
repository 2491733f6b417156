package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/config"
	"studyroom/pkg/types"
)

const adminToken = "seed-token"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "data", "studyroom.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.Log.Level = "error"
	cfg.Auth.AdminToken = adminToken
	return cfg
}

func startApp(t *testing.T) *Application {
	t.Helper()
	app, err := NewApplication(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	})
	return app
}

func put(t *testing.T, app *Application, path, body string) {
	t.Helper()
	require.Equal(t, http.StatusOK, putAs(t, app, adminToken, path, body), path)
}

// putAs sends a write request with token as the Bearer credential and returns the status
func putAs(t *testing.T, app *Application, token, path, body string) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodPut, "http://"+app.GetAddr()+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func getJSON(t *testing.T, app *Application, path string, v any) int {
	t.Helper()
	resp, err := http.Get("http://" + app.GetAddr() + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
	}
	return resp.StatusCode
}

// client is one browser tab connected to the gateway
type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func connect(t *testing.T, app *Application, userID, displayName string) *client {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws?userId=%s&displayName=%s", app.GetAddr(), userID, displayName)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &client{t: t, conn: conn}
}

func (c *client) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(types.Frame{Event: event, Data: data}))
}

// expect reads frames until one named event arrives and decodes its data
func (c *client) expect(event string, v any) {
	c.t.Helper()
	c.expectMatch(event, v, func() bool { return true })
}

// expectMatch skips frames until event arrives and match accepts its decoded data
func (c *client) expectMatch(event string, v any, match func() bool) {
	c.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	require.NoError(c.t, c.conn.SetReadDeadline(deadline))
	for {
		var env types.Envelope
		require.NoError(c.t, c.conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event != event {
			continue
		}
		if v != nil {
			require.NoError(c.t, json.Unmarshal(env.Data, v))
		}
		if match() {
			return
		}
	}
}

func (c *client) expectMessage(text string) types.ReceiveMessagePayload {
	c.t.Helper()
	var msg types.ReceiveMessagePayload
	c.expectMatch(types.EventReceiveMessage, &msg, func() bool { return msg.Message == text })
	return msg
}

func (c *client) expectError(message string) {
	c.t.Helper()
	var payload types.ErrorPayload
	c.expect(types.EventErrorOut, &payload)
	assert.Equal(c.t, message, payload.Message)
}

// FUNCTIONAL VALIDATION TEST: A full study session over real sockets and SQLite
func TestApplication_StudyRoomFlow(t *testing.T) {
	app := startApp(t)

	put(t, app, "/api/groups/g1/members/u1", `{"role": "admin"}`)
	put(t, app, "/api/groups/g1/members/u2", `{"role": "member"}`)
	put(t, app, "/api/problems/p9", `{"title": "Two Sum"}`)

	room := map[string]string{"roomId": "session-42", "groupId": "g1", "sessionId": "s1"}

	ann := connect(t, app, "u1", "Ann")
	ann.send(types.EventJoinRoom, room)
	var users types.RoomUsersPayload
	ann.expect(types.EventRoomUsers, &users)
	assert.Equal(t, 1, users.Count)

	bob := connect(t, app, "u2", "Bob")
	bob.send(types.EventJoinRoom, room)
	bob.expect(types.EventRoomUsers, &users)
	assert.Equal(t, 2, users.Count)
	assert.Equal(t, "Ann", users.Participants[0].Username)

	var joined types.PresencePayload
	ann.expect(types.EventUserJoined, &joined)
	assert.Equal(t, "u2", joined.UserID)
	system := ann.expectMessage("Bob joined the session")
	assert.Equal(t, types.MessageTypeSystem, system.MessageType)

	// Chat reaches everyone, sender included
	bob.send(types.EventSendMessage, map[string]string{
		"roomId": "session-42", "groupId": "g1", "sessionId": "s1",
		"message": "hello", "messageType": "text",
	})
	fromBob := ann.expectMessage("hello")
	echo := bob.expectMessage("hello")
	assert.Equal(t, fromBob.ID, echo.ID)
	assert.Equal(t, "u2", fromBob.UserID)

	// Only admins and moderators switch problems
	bob.send(types.EventProblemChange, map[string]string{"roomId": "session-42", "groupId": "g1", "problemId": "p1"})
	bob.expectError("Only admins and moderators can change problems")

	ann.send(types.EventProblemChange, map[string]string{"roomId": "session-42", "groupId": "g1", "problemId": "p9"})
	var changed types.ProblemChangedPayload
	bob.expect(types.EventProblemChanged, &changed)
	assert.Equal(t, "Two Sum", changed.ProblemTitle)
	assert.Equal(t, "Ann", changed.ChangedBy)
	bob.expectMessage("Ann changed the problem to: Two Sum")

	// Progress accumulates solvers in order
	bob.send(types.EventProblemSolved, map[string]string{"roomId": "session-42", "groupId": "g1", "problemId": "p9"})
	var solved types.ProblemSolvedPayload
	ann.expect(types.EventUserSolvedProblem, &solved)
	assert.Equal(t, "u2", solved.UserID)
	ann.expectMessage("🎉 Bob solved the problem!")

	ann.send(types.EventProblemSolved, map[string]string{"roomId": "session-42", "groupId": "g1", "problemId": "p9"})
	bob.expectMessage("🎉 Ann solved the problem!")

	var progress types.GroupProgress
	require.Equal(t, http.StatusOK, getJSON(t, app, "/api/groups/g1/progress/p9", &progress))
	assert.Equal(t, []string{"u2", "u1"}, progress.SolvedBy)

	// Ephemeral relays skip the sender
	ann.send(types.EventTypingStart, map[string]string{"roomId": "session-42"})
	var typing types.TypingPayload
	bob.expect(types.EventUserTyping, &typing)
	assert.Equal(t, "Ann", typing.Username)

	// Disconnect announces the departure
	require.NoError(t, bob.conn.Close())
	var left types.PresencePayload
	ann.expect(types.EventUserLeft, &left)
	assert.Equal(t, "u2", left.UserID)
	ann.expectMessage("Bob disconnected")

	var history struct {
		Messages []*types.ChatMessage `json:"messages"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, app, "/api/groups/g1/sessions/s1/messages", &history))
	texts := make([]string, 0, len(history.Messages))
	for _, m := range history.Messages {
		texts = append(texts, m.Text)
	}
	assert.Equal(t, []string{
		"Ann joined the session",
		"Bob joined the session",
		"hello",
		"Ann changed the problem to: Two Sum",
		"🎉 Bob solved the problem!",
		"🎉 Ann solved the problem!",
		"Bob disconnected",
	}, texts)
}

func TestApplication_NonMemberIsRefused(t *testing.T) {
	app := startApp(t)

	// Clients cannot promote themselves through the write API
	assert.Equal(t, http.StatusUnauthorized, putAs(t, app, "", "/api/groups/g1/members/u9", `{"role": "admin"}`))

	eve := connect(t, app, "u9", "Eve")
	eve.send(types.EventJoinRoom, map[string]string{"roomId": "session-42", "groupId": "g1", "sessionId": "s1"})
	eve.expectError("You are not a member of this group")

	var room struct {
		Count int `json:"count"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, app, "/api/rooms/session-42", &room))
	assert.Equal(t, 0, room.Count)
}

func TestApplication_InterviewFlow(t *testing.T) {
	app := startApp(t)

	carol := connect(t, app, "u3", "Carol")
	carol.send(types.EventJoinInterview, map[string]string{"sessionId": "iv-1"})
	var ack types.JoinedInterviewPayload
	carol.expect(types.EventJoinedInterview, &ack)
	assert.Equal(t, 1, ack.ActiveUsers)

	dave := connect(t, app, "u4", "Dave")
	dave.send(types.EventJoinInterview, map[string]string{"sessionId": "iv-1"})
	var active types.ActiveUsersPayload
	carol.expect(types.EventActiveUsers, &active)
	assert.Equal(t, 2, active.Count)
	dave.expect(types.EventJoinedInterview, &ack)

	dave.send(types.EventCodeChange, map[string]string{"sessionId": "iv-1", "code": "print(1)", "language": "python"})
	var code types.InterviewCodePayload
	carol.expect(types.EventCodeUpdate, &code)
	assert.Equal(t, "print(1)", code.Code)
	assert.Equal(t, "u4", code.UserID)

	var interview struct {
		ActiveUsers int `json:"active_users"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, app, "/api/interviews/iv-1", &interview))
	assert.Equal(t, 2, interview.ActiveUsers)

	require.NoError(t, dave.conn.Close())
	carol.expectMatch(types.EventActiveUsers, &active, func() bool { return active.Count == 1 })
}

func TestApplication_HealthAndLifecycle(t *testing.T) {
	app, err := NewApplication(testConfig(t))
	require.NoError(t, err)

	assert.ErrorIs(t, app.Stop(context.Background()), ErrNotStarted)
	require.NoError(t, app.Start(context.Background()))
	assert.ErrorIs(t, app.Start(context.Background()), ErrAlreadyStarted)
	assert.NotContains(t, app.GetAddr(), ":0", "bound address replaces the configured port")

	var health struct {
		Status string `json:"status"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, app, "/health", &health))
	assert.Equal(t, "healthy", health.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Stop(ctx))
	assert.ErrorIs(t, app.Start(context.Background()), ErrStopped)
}

func TestApplication_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Chat.RateLimit = 0
	_, err := NewApplication(cfg)
	assert.Error(t, err)
}

func TestApplication_FailsOnBrokenMigrations(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.MigrationsPath = t.TempDir()
	_, err := NewApplication(cfg)
	require.Error(t, err, "an empty migrations directory leaves the schema invalid")
	assert.Contains(t, err.Error(), "schema validation")
}
