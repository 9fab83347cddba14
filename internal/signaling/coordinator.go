package signaling

import (
	"encoding/json"
	"log/slog"

	"github.com/callmesh/signaling-server/internal/directory"
	"github.com/callmesh/signaling-server/internal/metrics"
	"github.com/callmesh/signaling-server/internal/rooms"
)

// Error messages surfaced to clients. These are part of the protocol surface
// and must stay stable.
const (
	errMsgEmptyUserID     = "UserId cannot be empty"
	errMsgMustRegister    = "You must register first"
	errMsgTargetNotFound  = "Target user not found"
	errMsgCallerNotFound  = "Caller not found"
	errMsgRoomNotFound    = "Room not found"
	errMsgInvalidRequest  = "Invalid request"
	errMsgRegisterFailed  = "Failed to register user"
	errMsgInternalFailure = "Internal error"
)

// Coordinator executes the signaling protocol for every connection. It is
// the only component that talks to both registries and pushes events out.
//
// One Coordinator serves all connections. Methods are invoked from each
// connection's read loop, so requests from the same connection arrive in
// order while different connections proceed in parallel. All methods are
// safe for concurrent use.
type Coordinator struct {
	log     *slog.Logger
	metrics *metrics.Metrics

	directory *directory.Directory
	rooms     *rooms.Registry
	peers     *PeerSet
	presence  *Broadcaster
}

func NewCoordinator(logger *slog.Logger, m *metrics.Metrics, dir *directory.Directory, reg *rooms.Registry, peers *PeerSet) *Coordinator {
	return &Coordinator{
		log:       logger,
		metrics:   m,
		directory: dir,
		rooms:     reg,
		peers:     peers,
		presence:  NewBroadcaster(logger, dir, peers),
	}
}

// RegisterUser binds userID to the calling connection. The prior connection
// of a re-registering user loses its directory entry but is not closed; only
// its routing goes away. Ack first, presence broadcast second.
func (c *Coordinator) RegisterUser(connectionID, userID string) {
	if userID == "" {
		c.log.Warn("register_empty_user_id", "connection_id", connectionID)
		c.sendError(connectionID, errMsgEmptyUserID)
		return
	}

	evictedConnID, ok := c.directory.Register(userID, connectionID)
	if !ok {
		c.sendError(connectionID, errMsgRegisterFailed)
		return
	}
	c.metrics.Inc(metrics.UsersRegistered)
	if evictedConnID != "" {
		c.metrics.Inc(metrics.ConnectionsEvicted)
		c.log.Info("stale_connection_evicted", "user_id", userID, "connection_id", evictedConnID)
	}

	c.log.Info("user_registered", "user_id", userID, "connection_id", connectionID)
	c.sendToConnection(connectionID, Event{Event: EventRegistered, UserID: userID})
	c.presence.Broadcast()
}

// CallUser starts call setup: the target gets a ringing notification, then
// the caller's offer, in that order. The offer is never inspected.
func (c *Coordinator) CallUser(connectionID, targetUserID string, offer json.RawMessage) {
	caller, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("call_unregistered_connection", "connection_id", connectionID)
		c.sendError(connectionID, errMsgMustRegister)
		return
	}

	targetConnID, ok := c.directory.ResolveConnection(targetUserID)
	if !ok {
		c.log.Warn("call_target_not_found", "caller_user_id", caller.UserID, "target_user_id", targetUserID)
		c.sendError(connectionID, errMsgTargetNotFound)
		return
	}

	c.log.Info("call_initiated", "caller_user_id", caller.UserID, "target_user_id", targetUserID)
	c.relayToConnection(targetConnID, Event{Event: EventIncomingCall, FromUserID: caller.UserID})
	c.relayToConnection(targetConnID, Event{Event: EventReceiveOffer, FromUserID: caller.UserID, Payload: offer})
}

// AcceptCall tells the original caller the callee picked up.
func (c *Coordinator) AcceptCall(connectionID, callerUserID string) {
	callee, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("accept_unregistered_connection", "connection_id", connectionID)
		c.sendError(connectionID, errMsgMustRegister)
		return
	}

	callerConnID, ok := c.directory.ResolveConnection(callerUserID)
	if !ok {
		c.log.Warn("accept_caller_not_found", "callee_user_id", callee.UserID, "caller_user_id", callerUserID)
		c.sendError(connectionID, errMsgCallerNotFound)
		return
	}

	c.log.Info("call_accepted", "callee_user_id", callee.UserID, "caller_user_id", callerUserID)
	c.relayToConnection(callerConnID, Event{Event: EventCallAccepted, FromUserID: callee.UserID})
}

// AnswerCall relays the callee's answer back to the original caller.
func (c *Coordinator) AnswerCall(connectionID, callerUserID string, answer json.RawMessage) {
	answerer, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("answer_unregistered_connection", "connection_id", connectionID)
		c.sendError(connectionID, errMsgMustRegister)
		return
	}

	callerConnID, ok := c.directory.ResolveConnection(callerUserID)
	if !ok {
		c.log.Warn("answer_caller_not_found", "answerer_user_id", answerer.UserID, "caller_user_id", callerUserID)
		c.sendError(connectionID, errMsgCallerNotFound)
		return
	}

	c.log.Info("call_answered", "answerer_user_id", answerer.UserID, "caller_user_id", callerUserID)
	c.relayToConnection(callerConnID, Event{Event: EventReceiveAnswer, FromUserID: answerer.UserID, Payload: answer})
}

// RejectCall is best-effort: teardown-style operations race with
// disconnects, so an unresolvable counterpart is logged and dropped rather
// than surfaced as an error.
func (c *Coordinator) RejectCall(connectionID, callerUserID, reason string) {
	callee, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("reject_unregistered_connection", "connection_id", connectionID)
		return
	}

	callerConnID, ok := c.directory.ResolveConnection(callerUserID)
	if !ok {
		c.log.Warn("reject_caller_not_found", "callee_user_id", callee.UserID, "caller_user_id", callerUserID)
		c.metrics.Inc(metrics.RelaysDropped)
		return
	}

	if reason == "" {
		reason = defaultRejectReason
	}
	c.log.Info("call_rejected", "callee_user_id", callee.UserID, "caller_user_id", callerUserID)
	c.relayToConnection(callerConnID, Event{Event: EventCallRejected, FromUserID: callee.UserID, Reason: reason})
}

// CancelCall is best-effort, like RejectCall.
func (c *Coordinator) CancelCall(connectionID, targetUserID string) {
	caller, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("cancel_unregistered_connection", "connection_id", connectionID)
		return
	}

	targetConnID, ok := c.directory.ResolveConnection(targetUserID)
	if !ok {
		c.log.Warn("cancel_target_not_found", "caller_user_id", caller.UserID, "target_user_id", targetUserID)
		c.metrics.Inc(metrics.RelaysDropped)
		return
	}

	c.log.Info("call_cancelled", "caller_user_id", caller.UserID, "target_user_id", targetUserID)
	c.relayToConnection(targetConnID, Event{Event: EventCallCancelled, FromUserID: caller.UserID})
}

// EndCall is best-effort, like RejectCall. No prior call record is checked:
// termination must work even when setup state was lost.
func (c *Coordinator) EndCall(connectionID, otherUserID string) {
	user, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("end_unregistered_connection", "connection_id", connectionID)
		return
	}

	otherConnID, ok := c.directory.ResolveConnection(otherUserID)
	if !ok {
		c.log.Warn("end_other_not_found", "user_id", user.UserID, "other_user_id", otherUserID)
		c.metrics.Inc(metrics.RelaysDropped)
		return
	}

	c.log.Info("call_ended", "user_id", user.UserID, "other_user_id", otherUserID)
	c.relayToConnection(otherConnID, Event{Event: EventCallEnded, FromUserID: user.UserID})
}

// SendIceCandidate relays one candidate. Candidates legitimately outlive
// calls, so an unresolvable target is a silent drop.
func (c *Coordinator) SendIceCandidate(connectionID, targetUserID string, candidate json.RawMessage) {
	sender, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("candidate_unregistered_connection", "connection_id", connectionID)
		return
	}

	targetConnID, ok := c.directory.ResolveConnection(targetUserID)
	if !ok {
		c.log.Debug("candidate_target_not_found", "target_user_id", targetUserID)
		c.metrics.Inc(metrics.RelaysDropped)
		return
	}

	c.log.Debug("candidate_relayed", "sender_user_id", sender.UserID, "target_user_id", targetUserID)
	c.relayToConnection(targetConnID, Event{Event: EventReceiveIceCandidate, FromUserID: sender.UserID, Payload: candidate})
}

// CreateRoom creates the room with the caller as first participant. An
// existing id is not an error: the first writer's room stands and the caller
// is acked without being joined to it.
func (c *Coordinator) CreateRoom(connectionID, roomID string) {
	user, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("create_room_unregistered_connection", "connection_id", connectionID)
		c.sendError(connectionID, errMsgMustRegister)
		return
	}

	_, created := c.rooms.Create(roomID, user.UserID)
	if created {
		c.directory.UpdateRoom(user.UserID, roomID)
		c.metrics.Inc(metrics.RoomsCreated)
		c.log.Info("room_created_by_user", "room_id", roomID, "user_id", user.UserID)
	}

	c.sendToConnection(connectionID, Event{Event: EventRoomCreated, RoomID: roomID})
}

// JoinRoom adds the caller to the room. Order matters: the pre-join
// participant snapshot is taken first, existing participants are notified of
// the arrival, then the joiner is acked with that snapshot so it knows
// exactly which peers to initiate offers toward and is never told about
// itself.
func (c *Coordinator) JoinRoom(connectionID, roomID string) {
	user, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("join_room_unregistered_connection", "connection_id", connectionID)
		c.sendError(connectionID, errMsgMustRegister)
		return
	}

	// Snapshot and join are one registry operation, so the room cannot empty
	// out and auto-delete between the two.
	existing, ok := c.rooms.JoinSnapshot(roomID, user.UserID)
	if !ok {
		c.log.Warn("join_room_not_found", "user_id", user.UserID, "room_id", roomID)
		c.sendError(connectionID, errMsgRoomNotFound)
		return
	}

	c.directory.UpdateRoom(user.UserID, roomID)
	c.log.Info("user_joined_room", "user_id", user.UserID, "room_id", roomID)

	joined := Event{Event: EventUserJoinedRoom, UserID: user.UserID, RoomID: roomID}
	for _, participantUserID := range existing {
		if participantUserID == user.UserID {
			continue
		}
		if connID, ok := c.directory.ResolveConnection(participantUserID); ok {
			c.relayToConnection(connID, joined)
		}
	}

	c.sendToConnection(connectionID, Event{Event: EventRoomJoined, RoomID: roomID, ParticipantIDs: existing})
}

// LeaveRoom removes the caller from the room and tells the remaining
// participants. Unknown room or unregistered caller is a logged no-op.
func (c *Coordinator) LeaveRoom(connectionID, roomID string) {
	user, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		c.log.Warn("leave_room_unregistered_connection", "connection_id", connectionID)
		return
	}
	c.leaveRoom(connectionID, user.UserID, roomID, true)
}

// leaveRoom is shared by LeaveRoom and Disconnect. ackCaller is false during
// disconnect teardown, when the departing connection can no longer receive.
func (c *Coordinator) leaveRoom(connectionID, userID, roomID string, ackCaller bool) {
	if _, ok := c.rooms.Get(roomID); !ok {
		c.log.Warn("leave_room_not_found", "user_id", userID, "room_id", roomID)
		return
	}

	c.rooms.Leave(roomID, userID)
	c.directory.UpdateRoom(userID, "")
	c.log.Info("user_left_room", "user_id", userID, "room_id", roomID)

	if _, stillExists := c.rooms.Get(roomID); !stillExists {
		c.metrics.Inc(metrics.RoomsDeleted)
	}

	left := Event{Event: EventUserLeftRoom, UserID: userID, RoomID: roomID}
	for _, participantUserID := range c.rooms.Participants(roomID) {
		if connID, ok := c.directory.ResolveConnection(participantUserID); ok {
			c.relayToConnection(connID, left)
		}
	}

	if ackCaller {
		c.sendToConnection(connectionID, Event{Event: EventRoomLeft, RoomID: roomID})
	}
}

// Disconnect tears down all state owned by the connection: room membership,
// directory entry, presence, and a departure notice to everyone else. It is
// called after the transport is already gone, so every push here is
// best-effort.
func (c *Coordinator) Disconnect(connectionID string) {
	user, ok := c.directory.ResolveUser(connectionID)
	if !ok {
		return
	}

	c.log.Info("user_disconnecting", "user_id", user.UserID, "connection_id", connectionID)

	if user.CurrentRoomID != "" {
		c.leaveRoom(connectionID, user.UserID, user.CurrentRoomID, false)
	}

	c.directory.Unregister(connectionID)
	c.presence.Broadcast()

	departed := Event{Event: EventUserDisconnected, UserID: user.UserID}
	c.peers.Each(func(peerConnID string, s Sender) {
		if peerConnID == connectionID {
			return
		}
		if err := s.Send(departed); err != nil {
			c.log.Debug("disconnect_notice_failed", "connection_id", peerConnID, "err", err)
		}
	})
}

// sendError emits a named Error event to the offending caller only. Errors
// are never broadcast and never fatal to the connection.
func (c *Coordinator) sendError(connectionID, message string) {
	c.metrics.Inc(metrics.ErrorsEmitted)
	c.sendToConnection(connectionID, Event{Event: EventError, Message: message})
}

func (c *Coordinator) sendToConnection(connectionID string, evt Event) {
	s, ok := c.peers.Get(connectionID)
	if !ok {
		c.log.Debug("send_no_peer", "connection_id", connectionID, "event", evt.Event)
		return
	}
	if err := s.Send(evt); err != nil {
		c.log.Debug("send_failed", "connection_id", connectionID, "event", evt.Event, "err", err)
	}
}

// relayToConnection is sendToConnection plus relay accounting.
func (c *Coordinator) relayToConnection(connectionID string, evt Event) {
	s, ok := c.peers.Get(connectionID)
	if !ok {
		c.metrics.Inc(metrics.RelaysDropped)
		c.log.Debug("relay_no_peer", "connection_id", connectionID, "event", evt.Event)
		return
	}
	if err := s.Send(evt); err != nil {
		c.metrics.Inc(metrics.RelaysDropped)
		c.log.Debug("relay_failed", "connection_id", connectionID, "event", evt.Event, "err", err)
		return
	}
	c.metrics.Inc(metrics.RelaysDelivered)
}
