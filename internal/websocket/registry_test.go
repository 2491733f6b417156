package websocket

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studyroom/internal/testutil"
	"studyroom/pkg/types"
)

func newTestRegistry(t *testing.T, conns ...*testutil.FakeConn) *Registry {
	t.Helper()
	r := NewRegistry(nil)
	for _, c := range conns {
		require.NoError(t, r.Register(c))
	}
	return r
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(nil)

	assert.ErrorIs(t, r.Register(nil), ErrNilConnection)

	c := testutil.NewFakeConn("c1", "u1", "Ann")
	require.NoError(t, r.Register(c))
	assert.ErrorIs(t, r.Register(c), ErrDuplicateConnection)
	assert.Equal(t, 1, r.GetStats()["total_connections"])
}

func TestRegistry_JoinRoomUnregistered(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.JoinRoom(testutil.NewFakeConn("c1", "u1", "Ann"), "session-42", "g1", "s1")
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegistry_JoinRoomCreatesRoomAndListsParticipantsInOrder(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)

	res, err := r.JoinRoom(a, "session-42", "g1", "s1")
	require.NoError(t, err)
	assert.False(t, res.AlreadyMember)
	assert.Equal(t, 1, res.Count)

	time.Sleep(time.Millisecond)
	res, err = r.JoinRoom(b, "session-42", "g1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	participants := r.Participants("session-42")
	require.Len(t, participants, 2)
	assert.Equal(t, types.Participant{UserID: "u1", Username: "Ann", ConnectionID: "a"}, participants[0])
	assert.Equal(t, "b", participants[1].ConnectionID)

	groupID, sessionID, ok := r.RoomInfo("session-42")
	assert.True(t, ok)
	assert.Equal(t, "g1", groupID)
	assert.Equal(t, "s1", sessionID)

	p, ok := r.Placement("a")
	require.True(t, ok)
	assert.Equal(t, Placement{RoomID: "session-42", GroupID: "g1", SessionID: "s1"}, p)
}

func TestRegistry_RejoinSameRoomIsNoOp(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	r := newTestRegistry(t, a)

	_, err := r.JoinRoom(a, "session-42", "g1", "s1")
	require.NoError(t, err)

	res, err := r.JoinRoom(a, "session-42", "g1", "s1")
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)
	assert.Equal(t, 1, r.RoomCount("session-42"))
}

func TestRegistry_JoinOtherRoomLeavesPrevious(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)

	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")
	_, _ = r.JoinRoom(b, "room-1", "g1", "s1")

	res, err := r.JoinRoom(a, "room-2", "g1", "s2")
	require.NoError(t, err)
	assert.True(t, res.Moved)
	assert.Equal(t, "room-1", res.Previous.RoomID)
	assert.Equal(t, 1, res.PreviousRemaining)

	assert.False(t, r.IsRoomMember("room-1", "a"))
	assert.True(t, r.IsRoomMember("room-2", "a"))
	assert.Equal(t, 1, r.RoomCount("room-1"))
}

func TestRegistry_JoinRoomGroupMismatch(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)

	_, err := r.JoinRoom(a, "room-1", "g1", "s1")
	require.NoError(t, err)

	_, err = r.JoinRoom(b, "room-1", "g2", "s1")
	assert.ErrorIs(t, err, ErrRoomGroupMismatch)
	assert.False(t, r.IsRoomMember("room-1", "b"))
}

func TestRegistry_JoinRoomSessionMismatch(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)

	_, err := r.JoinRoom(a, "room-1", "g1", "s1")
	require.NoError(t, err)

	_, err = r.JoinRoom(b, "room-1", "g1", "s2")
	assert.ErrorIs(t, err, ErrRoomSessionMismatch)
	assert.False(t, r.IsRoomMember("room-1", "b"))
	assert.Equal(t, 1, r.RoomCount("room-1"))

	p, ok := r.Placement("b")
	require.True(t, ok)
	assert.Empty(t, p.RoomID)
}

func TestRegistry_LeaveRoomIdempotentAndDeletesEmptyRoom(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)

	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")
	_, _ = r.JoinRoom(b, "room-1", "g1", "s1")

	left, remaining, ok := r.LeaveRoom(a, "room-1")
	require.True(t, ok)
	assert.Equal(t, "room-1", left.RoomID)
	assert.Equal(t, "g1", left.GroupID)
	assert.Equal(t, 1, remaining)

	_, _, ok = r.LeaveRoom(a, "room-1")
	assert.False(t, ok, "second leave must be a no-op")

	_, remaining, ok = r.LeaveRoom(b, "")
	require.True(t, ok)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 0, r.GetStats()["active_rooms"])
	assert.Empty(t, r.Participants("room-1"))
}

func TestRegistry_LeaveWrongRoom(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	r := newTestRegistry(t, a)

	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")
	_, _, ok := r.LeaveRoom(a, "room-2")
	assert.False(t, ok)
	assert.True(t, r.IsRoomMember("room-1", "a"))
}

func TestRegistry_BroadcastExcludesSender(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	c := testutil.NewFakeConn("c", "u3", "Cat")
	r := newTestRegistry(t, a, b, c)

	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")
	_, _ = r.JoinRoom(b, "room-1", "g1", "s1")

	delivered := r.Broadcast("room-1", types.EventUserJoined, types.PresencePayload{UserID: "u1"}, "a")
	assert.Equal(t, 1, delivered)
	assert.Equal(t, 0, a.Count(types.EventUserJoined))
	assert.Equal(t, 1, b.Count(types.EventUserJoined))
	assert.Equal(t, 0, c.Count(types.EventUserJoined), "non-members receive nothing")

	delivered = r.BroadcastEphemeral("room-1", types.EventCursorUpdate, types.CursorUpdatePayload{UserID: "u1"}, "a")
	assert.Equal(t, 1, delivered)
	f, ok := b.Last(types.EventCursorUpdate)
	require.True(t, ok)
	assert.True(t, f.Ephemeral)

	assert.Equal(t, 0, r.Broadcast("missing-room", types.EventUserLeft, nil, ""))
}

func TestRegistry_BroadcastSkipsFailingConnection(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)
	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")
	_, _ = r.JoinRoom(b, "room-1", "g1", "s1")

	a.FailEmits(ErrConnectionClosed)
	assert.Equal(t, 1, r.Broadcast("room-1", types.EventReceiveMessage, "x", ""))
	assert.Equal(t, 1, b.Count(types.EventReceiveMessage))
}

func TestRegistry_InterviewExclusivity(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)

	res, err := r.JoinInterview(a, "iv-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	_, _ = r.JoinInterview(b, "iv-1")

	res, err = r.JoinInterview(a, "iv-2")
	require.NoError(t, err)
	assert.Equal(t, "iv-1", res.PreviousSession)
	assert.Equal(t, 1, res.PreviousRemaining)
	assert.Equal(t, 1, res.Count)
	assert.False(t, r.InInterview("iv-1", "a"))
	assert.True(t, r.InInterview("iv-2", "a"))

	res, err = r.JoinInterview(a, "iv-2")
	require.NoError(t, err)
	assert.True(t, res.AlreadyMember)
}

func TestRegistry_StudyAndInterviewAreIndependent(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	r := newTestRegistry(t, a)

	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")
	_, _ = r.JoinInterview(a, "iv-1")

	p, _ := r.Placement("a")
	assert.Equal(t, "room-1", p.RoomID)
	assert.Equal(t, "iv-1", p.InterviewID)

	left, _, ok := r.LeaveRoom(a, "")
	require.True(t, ok)
	assert.Empty(t, left.InterviewID)
	assert.True(t, r.InInterview("iv-1", "a"))
}

func TestRegistry_LeaveInterviewDeletesEmptySession(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)
	_, _ = r.JoinInterview(a, "iv-1")
	_, _ = r.JoinInterview(b, "iv-1")

	left, remaining, ok := r.LeaveInterview(a, "iv-1")
	require.True(t, ok)
	assert.Equal(t, "iv-1", left)
	assert.Equal(t, 1, remaining)

	_, _, ok = r.LeaveInterview(a, "iv-1")
	assert.False(t, ok)

	_, remaining, ok = r.LeaveInterview(b, "")
	require.True(t, ok)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 0, r.InterviewCount("iv-1"))
	assert.Equal(t, 0, r.GetStats()["active_interviews"])
}

func TestRegistry_BroadcastInterview(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	b := testutil.NewFakeConn("b", "u2", "Bob")
	r := newTestRegistry(t, a, b)
	_, _ = r.JoinInterview(a, "iv-1")
	_, _ = r.JoinInterview(b, "iv-1")

	assert.Equal(t, 2, r.BroadcastInterview("iv-1", types.EventActiveUsers, types.ActiveUsersPayload{Count: 2}, "", false))
	assert.Equal(t, 1, r.BroadcastInterview("iv-1", types.EventCodeUpdate, "x", "a", true))
	assert.Equal(t, 0, a.Count(types.EventCodeUpdate))
	f, ok := b.Last(types.EventCodeUpdate)
	require.True(t, ok)
	assert.True(t, f.Ephemeral)
}

func TestRegistry_UnregisterCleansEverything(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	r := newTestRegistry(t, a)
	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")
	_, _ = r.JoinInterview(a, "iv-1")

	r.Unregister(a)
	assert.NotPanics(t, func() { r.Unregister(a) })
	r.Unregister(nil)

	assert.Equal(t, map[string]int{
		"total_connections": 0,
		"active_rooms":      0,
		"active_interviews": 0,
	}, r.GetStats())
	_, ok := r.Placement("a")
	assert.False(t, ok)
}

func TestRegistry_PublishSerializesPerRoom(t *testing.T) {
	a := testutil.NewFakeConn("a", "u1", "Ann")
	r := newTestRegistry(t, a)
	_, _ = r.JoinRoom(a, "room-1", "g1", "s1")

	var mu sync.Mutex
	var trace []string
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Publish("room-1", func() {
				mu.Lock()
				trace = append(trace, fmt.Sprintf("start-%d", n))
				mu.Unlock()
				time.Sleep(2 * time.Millisecond)
				mu.Lock()
				trace = append(trace, fmt.Sprintf("end-%d", n))
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	require.Len(t, trace, 10)
	for i := 0; i < len(trace); i += 2 {
		var n int
		_, err := fmt.Sscanf(trace[i], "start-%d", &n)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("end-%d", n), trace[i+1], "publish critical sections interleaved")
	}

	ran := false
	r.Publish("missing-room", func() { ran = true })
	assert.True(t, ran)
}

func TestRegistry_ConcurrentJoinLeaveKeepsCountsConsistent(t *testing.T) {
	r := NewRegistry(nil)
	const n = 50
	conns := make([]*testutil.FakeConn, n)
	for i := range conns {
		conns[i] = testutil.NewFakeConn(fmt.Sprintf("c%d", i), fmt.Sprintf("u%d", i), "User")
		require.NoError(t, r.Register(conns[i]))
	}

	var wg sync.WaitGroup
	for i, c := range conns {
		wg.Add(1)
		go func(i int, c *testutil.FakeConn) {
			defer wg.Done()
			_, err := r.JoinRoom(c, "room-1", "g1", "s1")
			assert.NoError(t, err)
			if i%2 == 0 {
				r.LeaveRoom(c, "room-1")
			}
			_ = r.Participants("room-1")
		}(i, c)
	}
	wg.Wait()

	assert.Equal(t, n/2, r.RoomCount("room-1"))
	assert.Len(t, r.Participants("room-1"), n/2)
}
