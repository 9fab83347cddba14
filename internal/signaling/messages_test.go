package signaling

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseRequest_Valid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"register", `{"op":"RegisterUser","userId":"alice"}`},
		{"register empty id", `{"op":"RegisterUser"}`},
		{"call", `{"op":"CallUser","targetUserId":"bob","payload":{"type":"offer","sdp":"v=0"}}`},
		{"call without payload", `{"op":"CallUser","targetUserId":"bob"}`},
		{"accept", `{"op":"AcceptCall","callerUserId":"alice"}`},
		{"answer", `{"op":"AnswerCall","callerUserId":"alice","payload":"sdp"}`},
		{"reject with reason", `{"op":"RejectCall","callerUserId":"alice","reason":"busy"}`},
		{"reject without reason", `{"op":"RejectCall","callerUserId":"alice"}`},
		{"cancel", `{"op":"CancelCall","targetUserId":"bob"}`},
		{"end", `{"op":"EndCall","otherUserId":"bob"}`},
		{"candidate", `{"op":"SendIceCandidate","targetUserId":"bob","payload":{"candidate":"c"}}`},
		{"create room", `{"op":"CreateRoom","roomId":"r1"}`},
		{"join room", `{"op":"JoinRoom","roomId":"r1"}`},
		{"leave room", `{"op":"LeaveRoom","roomId":"r1"}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseRequest([]byte(tc.raw)); err != nil {
				t.Fatalf("parseRequest(%s) = %v", tc.raw, err)
			}
		})
	}
}

func TestParseRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not json", `hello`, ""},
		{"unknown op", `{"op":"Shout"}`, "unsupported op"},
		{"missing op", `{"userId":"alice"}`, "unsupported op"},
		{"unknown field", `{"op":"RegisterUser","userid":"alice"}`, "unknown field"},
		{"trailing data", `{"op":"RegisterUser","userId":"a"}{"op":"RegisterUser"}`, "trailing"},
		{"call missing target", `{"op":"CallUser","payload":"x"}`, "requires targetUserId"},
		{"accept missing caller", `{"op":"AcceptCall"}`, "requires callerUserId"},
		{"end missing other", `{"op":"EndCall"}`, "requires otherUserId"},
		{"join missing room", `{"op":"JoinRoom"}`, "requires roomId"},
		{"register with room", `{"op":"RegisterUser","userId":"a","roomId":"r"}`, "unexpected field roomId"},
		{"accept with payload", `{"op":"AcceptCall","callerUserId":"a","payload":"x"}`, "unexpected field payload"},
		{"cancel with reason", `{"op":"CancelCall","targetUserId":"b","reason":"x"}`, "unexpected field reason"},
		{"create with user", `{"op":"CreateRoom","roomId":"r","userId":"a"}`, "unexpected field userId"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseRequest([]byte(tc.raw))
			if err == nil {
				t.Fatalf("parseRequest(%s) succeeded", tc.raw)
			}
			if tc.want != "" && !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseRequest_PayloadIsOpaque(t *testing.T) {
	raw := `{"op":"SendIceCandidate","targetUserId":"bob","payload":{"anything":["goes",1,null],"nested":{"deep":true}}}`
	req, err := parseRequest([]byte(raw))
	if err != nil {
		t.Fatalf("parseRequest: %v", err)
	}
	want := `{"anything":["goes",1,null],"nested":{"deep":true}}`
	if string(req.Payload) != want {
		t.Fatalf("payload = %s, want %s", req.Payload, want)
	}
}

func TestEventMarshal_UsersFieldShape(t *testing.T) {
	// Presence events carry users even when the directory is empty; every
	// other event omits the field entirely.
	empty := []PresenceEntry{}
	data, err := json.Marshal(Event{Event: EventUserListUpdated, Users: &empty})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"users":[]`) {
		t.Fatalf("presence wire form = %s, want \"users\":[]", data)
	}

	data, err = json.Marshal(Event{Event: EventIncomingCall, FromUserID: "alice"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if strings.Contains(string(data), "users") {
		t.Fatalf("call wire form = %s, want no users field", data)
	}
}
