package httpserver

import (
	"github.com/pion/webrtc/v4"

	"github.com/callmesh/signaling-server/internal/config"
)

// withTURNCredentials returns a copy of servers with every TURN entry
// carrying the given ephemeral username and credential. Non-TURN entries are
// left untouched.
func withTURNCredentials(servers []webrtc.ICEServer, username, credential string) []webrtc.ICEServer {
	if len(servers) == 0 {
		// Preserve empty (non-nil) slices so JSON responses consistently encode as
		// `[]` rather than `null`.
		return servers
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if config.ICEServerHasTURNURL(server) {
			out[i].Username = username
			out[i].Credential = credential
		}
	}
	return out
}
