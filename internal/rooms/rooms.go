// Package rooms tracks named rendezvous groups and their membership.
//
// A room exists exactly as long as it has participants: the last leave
// deletes it inside the same critical section, so an empty room is never
// observable from outside the registry.
package rooms

import (
	"log/slog"
	"sync"
	"time"
)

// Room is a snapshot of one room's state. The participant slice is a copy.
type Room struct {
	RoomID        string
	CreatorUserID string
	CreatedAt     time.Time
	Participants  []string
}

type room struct {
	roomID        string
	creatorUserID string
	createdAt     time.Time
	participants  map[string]struct{}
}

func (r *room) snapshot() Room {
	out := Room{
		RoomID:        r.roomID,
		CreatorUserID: r.creatorUserID,
		CreatedAt:     r.createdAt,
		Participants:  make([]string, 0, len(r.participants)),
	}
	for userID := range r.participants {
		out.Participants = append(out.Participants, userID)
	}
	return out
}

// Registry is safe for any number of concurrent callers.
type Registry struct {
	log *slog.Logger
	now func() time.Time

	mu    sync.Mutex
	rooms map[string]*room
}

type Option func(*Registry)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		log:   logger,
		now:   time.Now,
		rooms: make(map[string]*room),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create makes a room with creatorUserID as its first participant. Creating
// a room whose id is already live is not an error: the existing room is
// returned unchanged with created=false (first writer wins) and the conflict
// is logged.
func (r *Registry) Create(roomID, creatorUserID string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rooms[roomID]; ok {
		r.log.Warn("room_already_exists", "room_id", roomID, "creator_user_id", existing.creatorUserID)
		return existing.snapshot(), false
	}

	rm := &room{
		roomID:        roomID,
		creatorUserID: creatorUserID,
		createdAt:     r.now(),
		participants:  map[string]struct{}{creatorUserID: {}},
	}
	r.rooms[roomID] = rm

	r.log.Info("room_created", "room_id", roomID, "creator_user_id", creatorUserID)
	return rm.snapshot(), true
}

// Join adds userID to the room. Returns false when the room does not exist
// or the user is already a member (set semantics, not an error).
func (r *Registry) Join(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		r.log.Warn("room_join_unknown_room", "room_id", roomID, "user_id", userID)
		return false
	}
	if _, member := rm.participants[userID]; member {
		return false
	}
	rm.participants[userID] = struct{}{}

	r.log.Info("room_joined", "room_id", roomID, "user_id", userID, "participants", len(rm.participants))
	return true
}

// JoinSnapshot adds userID to the room and returns the member set as it was
// before the join, in one critical section, so the pre-join snapshot can
// never refer to a room that vanished in between. ok is false when the room
// does not exist. A user already in the room gets the snapshot back without
// a second add.
func (r *Registry) JoinSnapshot(roomID, userID string) (prior []string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, found := r.rooms[roomID]
	if !found {
		r.log.Warn("room_join_unknown_room", "room_id", roomID, "user_id", userID)
		return nil, false
	}

	prior = make([]string, 0, len(rm.participants))
	for memberID := range rm.participants {
		prior = append(prior, memberID)
	}

	if _, member := rm.participants[userID]; !member {
		rm.participants[userID] = struct{}{}
		r.log.Info("room_joined", "room_id", roomID, "user_id", userID, "participants", len(rm.participants))
	}
	return prior, true
}

// Leave removes userID's membership. Emptying the room deletes it as part of
// the same operation.
func (r *Registry) Leave(roomID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		r.log.Warn("room_leave_unknown_room", "room_id", roomID, "user_id", userID)
		return false
	}
	if _, member := rm.participants[userID]; !member {
		return false
	}
	delete(rm.participants, userID)
	r.log.Info("room_left", "room_id", roomID, "user_id", userID, "participants", len(rm.participants))

	if len(rm.participants) == 0 {
		delete(r.rooms, roomID)
		r.log.Info("room_deleted", "room_id", roomID, "reason", "empty")
	}
	return true
}

// Get returns a snapshot of the room, if it exists.
func (r *Registry) Get(roomID string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return rm.snapshot(), true
}

// Participants returns a copy of the room's member set. Nil when the room
// does not exist.
func (r *Registry) Participants(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(rm.participants))
	for userID := range rm.participants {
		out = append(out, userID)
	}
	return out
}

// Delete removes the room regardless of membership.
func (r *Registry) Delete(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rooms[roomID]; !ok {
		return false
	}
	delete(r.rooms, roomID)
	r.log.Info("room_deleted", "room_id", roomID, "reason", "explicit")
	return true
}

// All returns snapshots of every live room.
func (r *Registry) All() []Room {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm.snapshot())
	}
	return out
}
