package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Client->server operations.
const (
	OpRegisterUser     = "RegisterUser"
	OpCallUser         = "CallUser"
	OpAcceptCall       = "AcceptCall"
	OpAnswerCall       = "AnswerCall"
	OpRejectCall       = "RejectCall"
	OpCancelCall       = "CancelCall"
	OpEndCall          = "EndCall"
	OpSendIceCandidate = "SendIceCandidate"
	OpCreateRoom       = "CreateRoom"
	OpJoinRoom         = "JoinRoom"
	OpLeaveRoom        = "LeaveRoom"
)

// Server->client events.
const (
	EventRegistered          = "Registered"
	EventError               = "Error"
	EventUserListUpdated     = "UserListUpdated"
	EventIncomingCall        = "IncomingCall"
	EventReceiveOffer        = "ReceiveOffer"
	EventCallAccepted        = "CallAccepted"
	EventReceiveAnswer       = "ReceiveAnswer"
	EventCallRejected        = "CallRejected"
	EventCallCancelled       = "CallCancelled"
	EventCallEnded           = "CallEnded"
	EventReceiveIceCandidate = "ReceiveIceCandidate"
	EventRoomCreated         = "RoomCreated"
	EventRoomJoined          = "RoomJoined"
	EventRoomLeft            = "RoomLeft"
	EventUserJoinedRoom      = "UserJoinedRoom"
	EventUserLeftRoom        = "UserLeftRoom"
	EventUserDisconnected    = "UserDisconnected"
)

// defaultRejectReason is used when a RejectCall request carries no reason.
const defaultRejectReason = "Call rejected"

// request is the single client->server envelope. Which fields must be set
// depends on Op; validate enforces that so handlers never see a half-formed
// request.
//
// Payload carries session descriptions and ICE candidates. It is relayed
// verbatim and never parsed.
type request struct {
	Op string `json:"op"`

	UserID       string `json:"userId,omitempty"`
	TargetUserID string `json:"targetUserId,omitempty"`
	CallerUserID string `json:"callerUserId,omitempty"`
	OtherUserID  string `json:"otherUserId,omitempty"`
	RoomID       string `json:"roomId,omitempty"`
	Reason       string `json:"reason,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// Event is the single server->client envelope.
type Event struct {
	Event string `json:"event"`

	UserID     string `json:"userId,omitempty"`
	FromUserID string `json:"fromUserId,omitempty"`
	RoomID     string `json:"roomId,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`

	// Users is set on UserListUpdated only, and then always: an empty
	// directory still goes out as "users":[] so clients can treat the field
	// as the authoritative snapshot.
	Users          *[]PresenceEntry `json:"users,omitempty"`
	ParticipantIDs []string         `json:"participantIds,omitempty"`
}

// PresenceEntry is one row of a UserListUpdated event. CurrentRoomID is null
// for users not in a room.
type PresenceEntry struct {
	UserID        string  `json:"userId"`
	CurrentRoomID *string `json:"currentRoomId"`
}

func parseRequest(data []byte) (request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req request
	if err := dec.Decode(&req); err != nil {
		return request{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return request{}, fmt.Errorf("unexpected trailing data")
	}
	if err := req.validate(); err != nil {
		return request{}, err
	}
	return req, nil
}

func (r request) validate() error {
	switch r.Op {
	case OpRegisterUser:
		// An empty userId is allowed through; the coordinator reports it so
		// the client sees the same error a blank registration always gets.
		if err := r.onlyFields(fieldUserID); err != nil {
			return err
		}
	case OpCallUser:
		if r.TargetUserID == "" {
			return fmt.Errorf("%s requires targetUserId", r.Op)
		}
		if err := r.onlyFields(fieldTargetUserID | fieldPayload); err != nil {
			return err
		}
	case OpAcceptCall:
		if r.CallerUserID == "" {
			return fmt.Errorf("%s requires callerUserId", r.Op)
		}
		if err := r.onlyFields(fieldCallerUserID); err != nil {
			return err
		}
	case OpAnswerCall:
		if r.CallerUserID == "" {
			return fmt.Errorf("%s requires callerUserId", r.Op)
		}
		if err := r.onlyFields(fieldCallerUserID | fieldPayload); err != nil {
			return err
		}
	case OpRejectCall:
		if r.CallerUserID == "" {
			return fmt.Errorf("%s requires callerUserId", r.Op)
		}
		if err := r.onlyFields(fieldCallerUserID | fieldReason); err != nil {
			return err
		}
	case OpCancelCall:
		if r.TargetUserID == "" {
			return fmt.Errorf("%s requires targetUserId", r.Op)
		}
		if err := r.onlyFields(fieldTargetUserID); err != nil {
			return err
		}
	case OpEndCall:
		if r.OtherUserID == "" {
			return fmt.Errorf("%s requires otherUserId", r.Op)
		}
		if err := r.onlyFields(fieldOtherUserID); err != nil {
			return err
		}
	case OpSendIceCandidate:
		if r.TargetUserID == "" {
			return fmt.Errorf("%s requires targetUserId", r.Op)
		}
		if err := r.onlyFields(fieldTargetUserID | fieldPayload); err != nil {
			return err
		}
	case OpCreateRoom, OpJoinRoom, OpLeaveRoom:
		if r.RoomID == "" {
			return fmt.Errorf("%s requires roomId", r.Op)
		}
		if err := r.onlyFields(fieldRoomID); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported op %q", r.Op)
	}
	return nil
}

type fieldMask uint

const (
	fieldUserID fieldMask = 1 << iota
	fieldTargetUserID
	fieldCallerUserID
	fieldOtherUserID
	fieldRoomID
	fieldReason
	fieldPayload
)

// onlyFields rejects requests carrying fields their op does not use, so a
// confused client fails loudly instead of being half-interpreted.
func (r request) onlyFields(allowed fieldMask) error {
	set := func(name string, mask fieldMask, present bool) error {
		if present && allowed&mask == 0 {
			return fmt.Errorf("%s has unexpected field %s", r.Op, name)
		}
		return nil
	}
	for _, check := range []error{
		set("userId", fieldUserID, r.UserID != ""),
		set("targetUserId", fieldTargetUserID, r.TargetUserID != ""),
		set("callerUserId", fieldCallerUserID, r.CallerUserID != ""),
		set("otherUserId", fieldOtherUserID, r.OtherUserID != ""),
		set("roomId", fieldRoomID, r.RoomID != ""),
		set("reason", fieldReason, r.Reason != ""),
		set("payload", fieldPayload, len(r.Payload) > 0),
	} {
		if check != nil {
			return check
		}
	}
	return nil
}
