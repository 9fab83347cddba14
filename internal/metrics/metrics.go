package metrics

import "sync"

// Counter names used across the signaling server.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	UsersRegistered    = "users_registered"
	ConnectionsEvicted = "connections_evicted"

	RelaysDelivered = "relays_delivered"
	RelaysDropped   = "relays_dropped"

	RoomsCreated = "rooms_created"
	RoomsDeleted = "rooms_deleted"

	ErrorsEmitted = "errors_emitted"

	DropReasonRateLimited = "rate_limited"
	DropReasonOversized   = "oversized_message"
	DropReasonMalformed   = "malformed_message"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The server exposes it in Prometheus text format via PrometheusHandler; the
// in-process map keeps the signaling logic testable without a scrape setup.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
