package network

import (
	"encoding/json"
	"testing"
)

func TestParseClientMessage_Variants(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"heartbeat", `{"type":"heartbeat"}`, MsgTypeHeartbeat},
		{"occupy", `{"type":"occupy_seat","payload":{"seat_id":"s-1"}}`, MsgTypeOccupySeat},
		{"switch", `{"type":"switch_seat","payload":{"seat_id":"s-1"}}`, MsgTypeSwitchSeat},
		{"release", `{"type":"release_seat","payload":{"seat_id":"s-1"}}`, MsgTypeReleaseSeat},
		{"vacate", `{"type":"vacate_seat","payload":{"seat_id":"s-1"}}`, MsgTypeVacateSeat},
		{"assign", `{"type":"assign_character","payload":{"seat_id":"s-1","character_payload":{"name":"Gaius"}}}`, MsgTypeAssignCharacter},
		{"start", `{"type":"start_campaign","payload":{}}`, MsgTypeStartCampaign},
		{"state", `{"type":"get_room_state"}`, MsgTypeGetRoomState},
		{"action", `{"type":"game_action","payload":{"action":{"kind":"roll"}}}`, MsgTypeGameAction},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg, err := ParseClientMessage([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseClientMessage returned error: %v", err)
			}
			if msg.MessageType() != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, msg.MessageType())
			}
		})
	}
}

func TestParseClientMessage_Rejects(t *testing.T) {
	cases := map[string]string{
		"not json":          `nope`,
		"missing type":      `{"payload":{}}`,
		"unknown type":      `{"type":"steal_seat","payload":{"seat_id":"s-1"}}`,
		"missing seat":      `{"type":"occupy_seat","payload":{}}`,
		"blank seat":        `{"type":"release_seat","payload":{"seat_id":"  "}}`,
		"unknown field":     `{"type":"occupy_seat","payload":{"seat_id":"s-1","force":true}}`,
		"missing payload":   `{"type":"vacate_seat"}`,
		"null character":    `{"type":"assign_character","payload":{"seat_id":"s-1","character_payload":null}}`,
		"empty game action": `{"type":"game_action","payload":{}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(raw)); err == nil {
				t.Errorf("Expected %q to be rejected", raw)
			}
		})
	}
}

func TestParseClientMessage_AssignKeepsPayload(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"assign_character","payload":{"seat_id":"s-1","character_payload":{"name":"Gaius"}}}`))
	if err != nil {
		t.Fatalf("ParseClientMessage returned error: %v", err)
	}
	assign, ok := msg.(AssignCharacter)
	if !ok {
		t.Fatalf("Expected AssignCharacter, got %T", msg)
	}
	var body struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(assign.CharacterPayload, &body); err != nil || body.Name != "Gaius" {
		t.Errorf("Character payload not preserved: %s", assign.CharacterPayload)
	}
}

func TestEvent_Encode(t *testing.T) {
	data, err := Event{Type: EventDMJoined}.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if string(data) != `{"type":"room.dm_joined","payload":{}}` {
		t.Errorf("Unexpected frame: %s", data)
	}

	data, err = Event{Type: EventPlayerVacated, Payload: PlayerVacatedPayload{SeatID: "s-1", PreviousOwner: "alice"}}.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Frame is not valid JSON: %v", err)
	}
	var p PlayerVacatedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.PreviousOwner != "alice" {
		t.Errorf("Unexpected payload: %s", env.Payload)
	}
}
