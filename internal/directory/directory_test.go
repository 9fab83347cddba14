package directory

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func newTestDirectory() *Directory {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(logger)
}

func TestRegister_Basic(t *testing.T) {
	d := newTestDirectory()

	evicted, ok := d.Register("alice", "conn-1")
	if !ok || evicted != "" {
		t.Fatalf("Register = %q, %v", evicted, ok)
	}

	connID, ok := d.ResolveConnection("alice")
	if !ok || connID != "conn-1" {
		t.Fatalf("ResolveConnection = %q, %v", connID, ok)
	}

	uc, ok := d.ResolveUser("conn-1")
	if !ok || uc.UserID != "alice" || uc.ConnectionID != "conn-1" {
		t.Fatalf("ResolveUser = %#v, %v", uc, ok)
	}
	if uc.ConnectedAt.IsZero() {
		t.Fatalf("ConnectedAt not set")
	}
}

func TestRegister_RejectsBlankIDs(t *testing.T) {
	d := newTestDirectory()

	for _, tc := range []struct{ user, conn string }{
		{"", "conn-1"},
		{"alice", ""},
		{"", ""},
	} {
		if _, ok := d.Register(tc.user, tc.conn); ok {
			t.Fatalf("Register(%q, %q) succeeded, want rejection", tc.user, tc.conn)
		}
	}
	if d.Len() != 0 {
		t.Fatalf("Len = %d, want 0", d.Len())
	}
}

func TestRegister_EvictsPriorConnection(t *testing.T) {
	d := newTestDirectory()

	d.Register("alice", "conn-1")
	evicted, ok := d.Register("alice", "conn-2")
	if !ok || evicted != "conn-1" {
		t.Fatalf("Register = %q, %v, want conn-1 evicted", evicted, ok)
	}

	connID, ok := d.ResolveConnection("alice")
	if !ok || connID != "conn-2" {
		t.Fatalf("ResolveConnection = %q, %v, want conn-2", connID, ok)
	}
	if _, ok := d.ResolveUser("conn-1"); ok {
		t.Fatalf("evicted connection still resolvable")
	}
	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
}

func TestRegister_SameConnectionIsIdempotent(t *testing.T) {
	d := newTestDirectory()

	d.Register("alice", "conn-1")
	evicted, ok := d.Register("alice", "conn-1")
	if !ok || evicted != "" {
		t.Fatalf("re-register = %q, %v, want no eviction", evicted, ok)
	}

	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
	if connID, _ := d.ResolveConnection("alice"); connID != "conn-1" {
		t.Fatalf("ResolveConnection = %q", connID)
	}
}

func TestRegister_SameConnectionNewIdentity(t *testing.T) {
	d := newTestDirectory()

	d.Register("alice", "conn-1")
	d.Register("alice2", "conn-1")

	if _, ok := d.ResolveConnection("alice"); ok {
		t.Fatalf("old identity still resolvable")
	}
	if connID, ok := d.ResolveConnection("alice2"); !ok || connID != "conn-1" {
		t.Fatalf("ResolveConnection(alice2) = %q, %v", connID, ok)
	}
	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
}

func TestUnregister(t *testing.T) {
	d := newTestDirectory()
	d.Register("alice", "conn-1")

	if !d.Unregister("conn-1") {
		t.Fatalf("Unregister returned false for known connection")
	}
	if _, ok := d.ResolveConnection("alice"); ok {
		t.Fatalf("user still resolvable after unregister")
	}
	if _, ok := d.ResolveUser("conn-1"); ok {
		t.Fatalf("connection still resolvable after unregister")
	}
	if d.Unregister("conn-1") {
		t.Fatalf("Unregister returned true for unknown connection")
	}
}

// A late unregister of an evicted connection must not clobber the user's new
// mapping.
func TestUnregister_EvictedConnectionDoesNotDropNewMapping(t *testing.T) {
	d := newTestDirectory()

	d.Register("alice", "conn-1")
	d.Register("alice", "conn-2")

	// conn-1's entry is already gone, so this is a no-op.
	if d.Unregister("conn-1") {
		t.Fatalf("Unregister of evicted connection returned true")
	}
	if connID, ok := d.ResolveConnection("alice"); !ok || connID != "conn-2" {
		t.Fatalf("ResolveConnection = %q, %v, want conn-2", connID, ok)
	}
}

func TestUpdateRoom(t *testing.T) {
	d := newTestDirectory()
	d.Register("alice", "conn-1")

	if !d.UpdateRoom("alice", "room-9") {
		t.Fatalf("UpdateRoom failed for registered user")
	}
	uc, _ := d.ResolveUser("conn-1")
	if uc.CurrentRoomID != "room-9" {
		t.Fatalf("CurrentRoomID = %q, want room-9", uc.CurrentRoomID)
	}

	if !d.UpdateRoom("alice", "") {
		t.Fatalf("UpdateRoom clear failed")
	}
	uc, _ = d.ResolveUser("conn-1")
	if uc.CurrentRoomID != "" {
		t.Fatalf("CurrentRoomID = %q, want empty", uc.CurrentRoomID)
	}

	if d.UpdateRoom("bob", "room-9") {
		t.Fatalf("UpdateRoom succeeded for unknown user")
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	d := newTestDirectory()
	d.Register("alice", "conn-1")
	d.Register("bob", "conn-2")

	snap := d.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}

	// Mutating the directory after the snapshot must not change the copy.
	d.UpdateRoom("alice", "room-1")
	for _, uc := range snap {
		if uc.CurrentRoomID != "" {
			t.Fatalf("snapshot entry mutated: %#v", uc)
		}
	}
}

func TestWithClock(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := New(logger, WithClock(func() time.Time { return fixed }))

	d.Register("alice", "conn-1")
	uc, _ := d.ResolveUser("conn-1")
	if !uc.ConnectedAt.Equal(fixed) {
		t.Fatalf("ConnectedAt = %v, want %v", uc.ConnectedAt, fixed)
	}
}

func TestConcurrentRegisterEviction(t *testing.T) {
	d := newTestDirectory()

	const goroutines = 32
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d.Register("alice", fmt.Sprintf("conn-%d", i))
		}(i)
	}
	wg.Wait()

	// Exactly one connection must survive, and both directions must agree.
	if d.Len() != 1 {
		t.Fatalf("Len = %d, want 1", d.Len())
	}
	connID, ok := d.ResolveConnection("alice")
	if !ok {
		t.Fatalf("alice unresolvable")
	}
	uc, ok := d.ResolveUser(connID)
	if !ok || uc.UserID != "alice" {
		t.Fatalf("directions disagree: %#v, %v", uc, ok)
	}
}
