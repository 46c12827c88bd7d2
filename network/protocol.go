package network

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Client → server message types.
const (
	MsgTypeHeartbeat       = "heartbeat"
	MsgTypeOccupySeat      = "occupy_seat"
	MsgTypeSwitchSeat      = "switch_seat"
	MsgTypeReleaseSeat     = "release_seat"
	MsgTypeVacateSeat      = "vacate_seat"
	MsgTypeAssignCharacter = "assign_character"
	MsgTypeStartCampaign   = "start_campaign"
	MsgTypeGetRoomState    = "get_room_state"
	MsgTypeGameAction      = "game_action"
)

// Server → client event types.
const (
	EventSeatUpdated     = "room.seat_updated"
	EventDMJoined        = "room.dm_joined"
	EventDMLeft          = "room.dm_left"
	EventPlayerVacated   = "room.player_vacated"
	EventCampaignStarted = "room.campaign_started"
	EventOpeningReady    = "room.opening_ready"
	EventOpeningFailed   = "room.opening_failed"
	EventRoomState       = "room.state"
	EventAck             = "ack"
	EventError           = "error"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ClientMessage is the closed set of messages a client may send.
type ClientMessage interface {
	MessageType() string
}

type Heartbeat struct{}

type OccupySeat struct {
	SeatID string `json:"seat_id"`
}

type SwitchSeat struct {
	SeatID string `json:"seat_id"`
}

type ReleaseSeat struct {
	SeatID string `json:"seat_id"`
}

type VacateSeat struct {
	SeatID string `json:"seat_id"`
}

type AssignCharacter struct {
	SeatID           string          `json:"seat_id"`
	CharacterPayload json.RawMessage `json:"character_payload"`
}

type StartCampaign struct{}

type GetRoomState struct{}

type GameAction struct {
	Action json.RawMessage `json:"action"`
}

func (Heartbeat) MessageType() string       { return MsgTypeHeartbeat }
func (OccupySeat) MessageType() string      { return MsgTypeOccupySeat }
func (SwitchSeat) MessageType() string      { return MsgTypeSwitchSeat }
func (ReleaseSeat) MessageType() string     { return MsgTypeReleaseSeat }
func (VacateSeat) MessageType() string      { return MsgTypeVacateSeat }
func (AssignCharacter) MessageType() string { return MsgTypeAssignCharacter }
func (StartCampaign) MessageType() string   { return MsgTypeStartCampaign }
func (GetRoomState) MessageType() string    { return MsgTypeGetRoomState }
func (GameAction) MessageType() string      { return MsgTypeGameAction }

// ParseClientMessage decodes and validates one inbound frame. Unknown types,
// unknown fields and missing required fields are errors.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch env.Type {
	case MsgTypeHeartbeat:
		return Heartbeat{}, nil
	case MsgTypeOccupySeat:
		var m OccupySeat
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, requireSeat(m.SeatID)
	case MsgTypeSwitchSeat:
		var m SwitchSeat
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, requireSeat(m.SeatID)
	case MsgTypeReleaseSeat:
		var m ReleaseSeat
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, requireSeat(m.SeatID)
	case MsgTypeVacateSeat:
		var m VacateSeat
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		return m, requireSeat(m.SeatID)
	case MsgTypeAssignCharacter:
		var m AssignCharacter
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		if err := requireSeat(m.SeatID); err != nil {
			return nil, err
		}
		if len(m.CharacterPayload) == 0 || string(m.CharacterPayload) == "null" {
			return nil, fmt.Errorf("%s: character_payload is required", env.Type)
		}
		return m, nil
	case MsgTypeStartCampaign:
		return StartCampaign{}, nil
	case MsgTypeGetRoomState:
		return GetRoomState{}, nil
	case MsgTypeGameAction:
		var m GameAction
		if err := decodePayload(env.Payload, &m); err != nil {
			return nil, err
		}
		if len(m.Action) == 0 {
			return nil, fmt.Errorf("%s: action is required", env.Type)
		}
		return m, nil
	case "":
		return nil, fmt.Errorf("missing message type")
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func decodePayload(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing payload")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	return nil
}

func requireSeat(seatID string) error {
	if strings.TrimSpace(seatID) == "" {
		return fmt.Errorf("seat_id is required")
	}
	return nil
}

// Event is an outbound server frame.
type Event struct {
	Type    string
	Payload interface{}
}

// Encode serialises the event into an Envelope frame.
func (e Event) Encode() ([]byte, error) {
	payload := e.Payload
	if payload == nil {
		payload = struct{}{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: e.Type, Payload: raw})
}

// Payloads for the server events.

type PlayerVacatedPayload struct {
	SeatID        string `json:"seat_id"`
	PreviousOwner string `json:"previous_owner"`
}

type OpeningReadyPayload struct {
	Text string `json:"text"`
}

type OpeningFailedPayload struct {
	Reason string `json:"reason"`
}

type AckPayload struct {
	Request string `json:"request"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}
