package websocket

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"studyroom/pkg/interfaces"
	"studyroom/pkg/types"
)

var (
	// ErrRoomGroupMismatch is returned when a room id is reused under another group
	ErrRoomGroupMismatch = errors.New("room belongs to a different group")
	// ErrRoomSessionMismatch is returned when a room id is reused under another chat session
	ErrRoomSessionMismatch = errors.New("room belongs to a different session")
)

// Placement is where a connection currently sits. A connection occupies at
// most one study-group room and at most one interview room.
type Placement struct {
	RoomID      string
	GroupID     string
	SessionID   string
	InterviewID string
}

// RoomJoin describes what JoinRoom changed
type RoomJoin struct {
	AlreadyMember     bool
	Moved             bool      // left Previous to join the new room
	Previous          Placement // study placement before the move
	PreviousRemaining int       // members left in the previous room
	Count             int       // members in the joined room
}

// InterviewJoin describes what JoinInterview changed
type InterviewJoin struct {
	AlreadyMember     bool
	PreviousSession   string
	PreviousRemaining int
	Count             int
}

type entry struct {
	conn      interfaces.Connection
	placement Placement
}

type member struct {
	conn     interfaces.Connection
	joinedAt time.Time
}

type room struct {
	groupID   string
	sessionID string
	members   map[string]*member // connID -> member
	publishMu *sync.Mutex
}

// Registry tracks every live connection and the rooms it occupies
// ARCHITECTURAL DISCOVERY: Membership sets and per-connection placement
// mutate under one lock so the at-most-one-room rule can never be observed
// half applied
type Registry struct {
	// TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy fan-out
	mu sync.RWMutex

	connections map[string]*entry                           // connID -> entry
	rooms       map[string]*room                            // roomID -> room
	interviews  map[string]map[string]interfaces.Connection // sessionID -> connID -> conn
	logger      logrus.FieldLogger
}

// NewRegistry creates a new connection registry
// FUNCTIONAL DISCOVERY: Initialize all maps to prevent nil pointer access during concurrent operations
func NewRegistry(logger logrus.FieldLogger) *Registry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Registry{
		connections: make(map[string]*entry),
		rooms:       make(map[string]*room),
		interviews:  make(map[string]map[string]interfaces.Connection),
		logger:      logger,
	}
}

// Register starts tracking an authenticated connection
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return ErrDuplicateConnection
	}
	r.connections[conn.ID()] = &entry{conn: conn}
	return nil
}

// Connections returns a snapshot of every registered connection
func (r *Registry) Connections() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, e := range r.connections {
		conns = append(conns, e.conn)
	}
	return conns
}

// Unregister drops the connection from every room without notifying anyone.
// Callers announce departures first; this is the final cleanup and is idempotent.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[conn.ID()]
	if !exists {
		return
	}
	r.removeFromRoomLocked(e)
	r.removeFromInterviewLocked(e)
	delete(r.connections, conn.ID())
}

// JoinRoom places the connection in a study-group room, leaving any other
// study room first. Rejoining the current room changes nothing.
func (r *Registry) JoinRoom(conn interfaces.Connection, roomID, groupID, sessionID string) (RoomJoin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[conn.ID()]
	if !exists {
		return RoomJoin{}, ErrNotRegistered
	}

	target, targetExists := r.rooms[roomID]
	if targetExists && target.groupID != groupID {
		return RoomJoin{}, ErrRoomGroupMismatch
	}
	// A room records one session; joiners under another could never chat in it
	if targetExists && target.sessionID != sessionID {
		return RoomJoin{}, ErrRoomSessionMismatch
	}

	if e.placement.RoomID == roomID && targetExists {
		return RoomJoin{AlreadyMember: true, Count: len(target.members)}, nil
	}

	var result RoomJoin
	if e.placement.RoomID != "" {
		result.Moved = true
		result.Previous = e.placement
		result.PreviousRemaining = r.removeFromRoomLocked(e)
	}

	if !targetExists {
		target = &room{
			groupID:   groupID,
			sessionID: sessionID,
			members:   make(map[string]*member),
			publishMu: &sync.Mutex{},
		}
		r.rooms[roomID] = target
	}
	target.members[conn.ID()] = &member{conn: conn, joinedAt: time.Now()}
	e.placement.RoomID = roomID
	e.placement.GroupID = groupID
	e.placement.SessionID = sessionID

	result.Count = len(target.members)
	return result, nil
}

// LeaveRoom removes the connection from roomID. An empty roomID means the
// connection's current study room. ok is false when it was not there.
func (r *Registry) LeaveRoom(conn interfaces.Connection, roomID string) (left Placement, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[conn.ID()]
	if !exists || e.placement.RoomID == "" {
		return Placement{}, 0, false
	}
	if roomID != "" && e.placement.RoomID != roomID {
		return Placement{}, 0, false
	}

	left = e.placement
	left.InterviewID = ""
	remaining = r.removeFromRoomLocked(e)
	return left, remaining, true
}

// removeFromRoomLocked clears the study placement and deletes the room when
// it empties. Returns the members left behind.
func (r *Registry) removeFromRoomLocked(e *entry) int {
	roomID := e.placement.RoomID
	if roomID == "" {
		return 0
	}
	e.placement.RoomID = ""
	e.placement.GroupID = ""
	e.placement.SessionID = ""

	rm, exists := r.rooms[roomID]
	if !exists {
		return 0
	}
	delete(rm.members, e.conn.ID())
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		return 0
	}
	return len(rm.members)
}

// Placement returns where the connection currently sits
func (r *Registry) Placement(connID string) (Placement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.connections[connID]
	if !exists {
		return Placement{}, false
	}
	return e.placement, true
}

// IsRoomMember reports whether the connection is in roomID
func (r *Registry) IsRoomMember(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return false
	}
	_, ok := rm.members[connID]
	return ok
}

// RoomInfo returns the group and chat session a live room belongs to
func (r *Registry) RoomInfo(roomID string) (groupID, sessionID string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return "", "", false
	}
	return rm.groupID, rm.sessionID, true
}

// RoomCount returns the number of live members in roomID
func (r *Registry) RoomCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rm, exists := r.rooms[roomID]; exists {
		return len(rm.members)
	}
	return 0
}

// Participants lists the room's members in join order
func (r *Registry) Participants(roomID string) []types.Participant {
	r.mu.RLock()
	members := r.snapshotMembersLocked(roomID)
	r.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		if members[i].joinedAt.Equal(members[j].joinedAt) {
			return members[i].conn.ID() < members[j].conn.ID()
		}
		return members[i].joinedAt.Before(members[j].joinedAt)
	})

	participants := make([]types.Participant, 0, len(members))
	for _, m := range members {
		participants = append(participants, types.Participant{
			UserID:       m.conn.UserID(),
			Username:     m.conn.DisplayName(),
			ConnectionID: m.conn.ID(),
		})
	}
	return participants
}

func (r *Registry) snapshotMembersLocked(roomID string) []member {
	rm, exists := r.rooms[roomID]
	if !exists {
		return nil
	}
	members := make([]member, 0, len(rm.members))
	for _, m := range rm.members {
		members = append(members, *m)
	}
	return members
}

// Publish runs fn while holding roomID's publish lock so persisted messages
// reach every member in the order their writes completed
func (r *Registry) Publish(roomID string, fn func()) {
	r.mu.RLock()
	var mu *sync.Mutex
	if rm, exists := r.rooms[roomID]; exists {
		mu = rm.publishMu
	}
	r.mu.RUnlock()

	if mu == nil {
		// Room is gone; any broadcast inside fn is a no-op
		fn()
		return
	}
	mu.Lock()
	defer mu.Unlock()
	fn()
}

// Broadcast sends a reliable event to every member of roomID except
// excludeID and returns how many deliveries were queued
func (r *Registry) Broadcast(roomID, event string, payload any, excludeID string) int {
	r.mu.RLock()
	members := r.snapshotMembersLocked(roomID)
	r.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		if m.conn.ID() == excludeID {
			continue
		}
		if err := m.conn.Emit(event, payload); err != nil {
			r.logDeliveryFailure(m.conn, event, err)
			continue
		}
		delivered++
	}
	return delivered
}

// BroadcastEphemeral is Broadcast over the lossy queue
func (r *Registry) BroadcastEphemeral(roomID, event string, payload any, excludeID string) int {
	r.mu.RLock()
	members := r.snapshotMembersLocked(roomID)
	r.mu.RUnlock()

	delivered := 0
	for _, m := range members {
		if m.conn.ID() == excludeID {
			continue
		}
		if err := m.conn.EmitEphemeral(event, payload); err != nil {
			r.logDeliveryFailure(m.conn, event, err)
			continue
		}
		delivered++
	}
	return delivered
}

// JoinInterview places the connection in an interview room, leaving any
// other interview room first
func (r *Registry) JoinInterview(conn interfaces.Connection, sessionID string) (InterviewJoin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[conn.ID()]
	if !exists {
		return InterviewJoin{}, ErrNotRegistered
	}

	if e.placement.InterviewID == sessionID {
		return InterviewJoin{AlreadyMember: true, Count: len(r.interviews[sessionID])}, nil
	}

	var result InterviewJoin
	if e.placement.InterviewID != "" {
		result.PreviousSession = e.placement.InterviewID
		result.PreviousRemaining = r.removeFromInterviewLocked(e)
	}

	set, ok := r.interviews[sessionID]
	if !ok {
		set = make(map[string]interfaces.Connection)
		r.interviews[sessionID] = set
	}
	set[conn.ID()] = conn
	e.placement.InterviewID = sessionID

	result.Count = len(set)
	return result, nil
}

// LeaveInterview removes the connection from sessionID. An empty sessionID
// means the current interview room.
func (r *Registry) LeaveInterview(conn interfaces.Connection, sessionID string) (left string, remaining int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.connections[conn.ID()]
	if !exists || e.placement.InterviewID == "" {
		return "", 0, false
	}
	if sessionID != "" && e.placement.InterviewID != sessionID {
		return "", 0, false
	}

	left = e.placement.InterviewID
	remaining = r.removeFromInterviewLocked(e)
	return left, remaining, true
}

func (r *Registry) removeFromInterviewLocked(e *entry) int {
	sessionID := e.placement.InterviewID
	if sessionID == "" {
		return 0
	}
	e.placement.InterviewID = ""

	set, exists := r.interviews[sessionID]
	if !exists {
		return 0
	}
	delete(set, e.conn.ID())
	if len(set) == 0 {
		delete(r.interviews, sessionID)
		return 0
	}
	return len(set)
}

// InInterview reports whether the connection is in the interview room
func (r *Registry) InInterview(sessionID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.interviews[sessionID][connID]
	return ok
}

// InterviewCount returns the live connection count of an interview room
func (r *Registry) InterviewCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.interviews[sessionID])
}

// BroadcastInterview sends to every connection in the interview room except
// excludeID. Ephemeral events use the lossy queue.
func (r *Registry) BroadcastInterview(sessionID, event string, payload any, excludeID string, ephemeral bool) int {
	r.mu.RLock()
	set := r.interviews[sessionID]
	conns := make([]interfaces.Connection, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if c.ID() == excludeID {
			continue
		}
		var err error
		if ephemeral {
			err = c.EmitEphemeral(event, payload)
		} else {
			err = c.Emit(event, payload)
		}
		if err != nil {
			r.logDeliveryFailure(c, event, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (r *Registry) logDeliveryFailure(conn interfaces.Connection, event string, err error) {
	r.logger.WithFields(logrus.Fields{
		"connection_id": conn.ID(),
		"user_id":       conn.UserID(),
		"event":         event,
	}).WithError(err).Debug("Dropped delivery to connection")
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"total_connections": len(r.connections),
		"active_rooms":      len(r.rooms),
		"active_interviews": len(r.interviews),
	}
}
