// Package signaling implements the call-setup protocol between browser
// peers: a per-connection request dispatcher, opaque offer/answer/candidate
// relay, room join/leave notifications, and presence fan-out.
//
// The package never inspects SDP or candidate payloads; they travel through
// as raw JSON between exactly the two parties that need them.
package signaling
