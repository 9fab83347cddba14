package signaling

import (
	"log/slog"

	"github.com/callmesh/signaling-server/internal/directory"
)

// Broadcaster fans a snapshot of the presence directory out to every
// connected client. Delivery is fire-and-forget: a failed send to one client
// never blocks or fails delivery to the others.
type Broadcaster struct {
	log       *slog.Logger
	directory *directory.Directory
	peers     *PeerSet
}

func NewBroadcaster(logger *slog.Logger, dir *directory.Directory, peers *PeerSet) *Broadcaster {
	return &Broadcaster{log: logger, directory: dir, peers: peers}
}

// Broadcast pushes a UserListUpdated event with the current {userId,
// currentRoomId} pairs to all connections, registered or not.
func (b *Broadcaster) Broadcast() {
	snapshot := b.directory.Snapshot()

	entries := make([]PresenceEntry, 0, len(snapshot))
	for _, uc := range snapshot {
		entry := PresenceEntry{UserID: uc.UserID}
		if uc.CurrentRoomID != "" {
			roomID := uc.CurrentRoomID
			entry.CurrentRoomID = &roomID
		}
		entries = append(entries, entry)
	}

	evt := Event{Event: EventUserListUpdated, Users: &entries}
	b.peers.Each(func(connectionID string, s Sender) {
		if err := s.Send(evt); err != nil {
			b.log.Debug("presence_send_failed", "connection_id", connectionID, "err", err)
		}
	})
	b.log.Debug("presence_broadcast", "users", len(entries))
}
