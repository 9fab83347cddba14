// Package directory maintains the authoritative mapping between registered
// user identities and live transport connections.
//
// The directory is the single source of truth for "who is reachable and how".
// All compound updates (register-with-eviction, unregister-both-directions)
// run under one mutex so no reader can observe two entries claiming the same
// user, even transiently.
package directory

import (
	"log/slog"
	"sync"
	"time"
)

// UserConnection describes one registered client.
type UserConnection struct {
	UserID        string
	ConnectionID  string
	CurrentRoomID string // empty when the user is not in a room
	ConnectedAt   time.Time
}

// Directory is safe for use by any number of concurrent callers. No method
// performs I/O or blocks on anything other than the internal mutex.
type Directory struct {
	log *slog.Logger
	now func() time.Time

	mu         sync.Mutex
	byConn     map[string]*UserConnection
	connByUser map[string]string
}

// Option configures a Directory.
type Option func(*Directory)

// WithClock overrides the timestamp source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

func New(logger *slog.Logger, opts ...Option) *Directory {
	d := &Directory{
		log:        logger,
		now:        time.Now,
		byConn:     make(map[string]*UserConnection),
		connByUser: make(map[string]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register installs userID <-> connectionID. If the user already has a live
// connection, its entry is dropped in the same critical section before the
// new one is installed and its connection id is returned so the caller can
// tear the stale transport down; the directory itself never closes sockets.
//
// Returns ok=false (and changes nothing) when either id is blank.
func (d *Directory) Register(userID, connectionID string) (evictedConnID string, ok bool) {
	if userID == "" || connectionID == "" {
		d.log.Warn("directory_register_rejected", "user_id", userID, "connection_id", connectionID)
		return "", false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if prev, found := d.connByUser[userID]; found && prev != connectionID {
		delete(d.byConn, prev)
		evictedConnID = prev
		d.log.Info("directory_evicted_stale_connection", "user_id", userID, "connection_id", prev)
	}

	// A connection switching identity releases its old user id, keeping both
	// directions one-to-one.
	if old, found := d.byConn[connectionID]; found && old.UserID != userID {
		if d.connByUser[old.UserID] == connectionID {
			delete(d.connByUser, old.UserID)
		}
	}

	d.byConn[connectionID] = &UserConnection{
		UserID:       userID,
		ConnectionID: connectionID,
		ConnectedAt:  d.now(),
	}
	d.connByUser[userID] = connectionID

	d.log.Info("directory_registered", "user_id", userID, "connection_id", connectionID)
	return evictedConnID, true
}

// Unregister removes both directions of the mapping for connectionID.
// Unknown connections are a no-op returning false.
func (d *Directory) Unregister(connectionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	uc, ok := d.byConn[connectionID]
	if !ok {
		return false
	}
	delete(d.byConn, connectionID)

	// Only clear the reverse mapping if it still points at this connection;
	// a re-registration may already have claimed the user id.
	if d.connByUser[uc.UserID] == connectionID {
		delete(d.connByUser, uc.UserID)
	}

	d.log.Info("directory_unregistered", "user_id", uc.UserID, "connection_id", connectionID)
	return true
}

// ResolveConnection returns the live connection id for userID.
func (d *Directory) ResolveConnection(userID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	connID, ok := d.connByUser[userID]
	return connID, ok
}

// ResolveUser returns a copy of the entry for connectionID.
func (d *Directory) ResolveUser(connectionID string) (UserConnection, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	uc, ok := d.byConn[connectionID]
	if !ok {
		return UserConnection{}, false
	}
	return *uc, true
}

// UpdateRoom sets the cached current-room pointer for userID. An empty roomID
// clears it. Returns false when the user has no live connection.
func (d *Directory) UpdateRoom(userID, roomID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	connID, ok := d.connByUser[userID]
	if !ok {
		d.log.Warn("directory_update_room_unknown_user", "user_id", userID, "room_id", roomID)
		return false
	}
	d.byConn[connID].CurrentRoomID = roomID
	return true
}

// Snapshot returns a point-in-time copy of every registered connection.
// Callers may iterate without holding any directory lock.
func (d *Directory) Snapshot() []UserConnection {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]UserConnection, 0, len(d.byConn))
	for _, uc := range d.byConn {
		out = append(out, *uc)
	}
	return out
}

// Len reports the number of live connections.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byConn)
}
