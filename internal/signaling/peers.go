package signaling

import "sync"

// Sender pushes events to one connected client. Implementations must be safe
// for concurrent use; Send must not block indefinitely.
type Sender interface {
	Send(evt Event) error
	Close() error
}

// PeerSet tracks the live connections the coordinator can push to, keyed by
// connection id. It deliberately knows nothing about user identities; the
// directory owns that mapping.
type PeerSet struct {
	mu    sync.Mutex
	peers map[string]Sender
}

func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]Sender)}
}

func (p *PeerSet) Attach(connectionID string, s Sender) {
	p.mu.Lock()
	p.peers[connectionID] = s
	p.mu.Unlock()
}

func (p *PeerSet) Detach(connectionID string) {
	p.mu.Lock()
	delete(p.peers, connectionID)
	p.mu.Unlock()
}

func (p *PeerSet) Get(connectionID string) (Sender, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.peers[connectionID]
	return s, ok
}

func (p *PeerSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Each calls fn for every attached peer. The peer map is snapshotted first so
// fn runs without the set lock held and may itself attach or detach peers.
func (p *PeerSet) Each(fn func(connectionID string, s Sender)) {
	p.mu.Lock()
	snapshot := make(map[string]Sender, len(p.peers))
	for id, s := range p.peers {
		snapshot[id] = s
	}
	p.mu.Unlock()

	for id, s := range snapshot {
		fn(id, s)
	}
}
