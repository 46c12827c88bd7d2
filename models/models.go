// models/models.go
package models

import (
	"time"
)

// SeatType distinguishes the single DM seat from player seats.
type SeatType string

const (
	SeatTypeDM     SeatType = "dm"
	SeatTypePlayer SeatType = "player"
)

// CampaignStatus is the one-way campaign lifecycle.
type CampaignStatus string

const (
	CampaignSetup  CampaignStatus = "setup"
	CampaignActive CampaignStatus = "active"
)

// RoomStatus reflects whether a DM connection is currently live.
type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomActive  RoomStatus = "active"
)

// Session is one game room.
type Session struct {
	ID              string         `json:"session_id"`
	DMUserID        string         `json:"dm_user_id"`
	PlayerSeatCount int            `json:"player_seat_count"`
	CampaignStatus  CampaignStatus `json:"campaign_status"`
	RoomStatus      RoomStatus     `json:"room_status"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Seat is a slot within a session. Empty OwnerUserID / CharacterID mean null.
type Seat struct {
	ID          string   `json:"seat_id"`
	SessionID   string   `json:"session_id"`
	Type        SeatType `json:"seat_type"`
	SlotIndex   int      `json:"slot_index"`
	OwnerUserID string   `json:"owner_user_id,omitempty"`
	CharacterID string   `json:"character_id,omitempty"`
	Version     int64    `json:"version"`
}

// Vacant reports whether nobody holds the seat.
func (s Seat) Vacant() bool {
	return s.OwnerUserID == ""
}

// SeatView is the client-facing seat snapshot; null fields stay null on the wire.
type SeatView struct {
	SeatID      string   `json:"seat_id"`
	SeatType    SeatType `json:"seat_type"`
	SlotIndex   int      `json:"slot_index"`
	OwnerUserID *string  `json:"owner_user_id"`
	CharacterID *string  `json:"character_id"`
	Online      bool     `json:"online"`
	Version     int64    `json:"version"`
}

// NewSeatView builds a view of seat with the given presence flag.
func NewSeatView(seat Seat, online bool) SeatView {
	return SeatView{
		SeatID:      seat.ID,
		SeatType:    seat.Type,
		SlotIndex:   seat.SlotIndex,
		OwnerUserID: nullable(seat.OwnerUserID),
		CharacterID: nullable(seat.CharacterID),
		Online:      online,
		Version:     seat.Version,
	}
}

// RoomState is the full snapshot returned by get_room_state.
type RoomState struct {
	SessionID      string         `json:"session_id"`
	DMUserID       string         `json:"dm_user_id"`
	CampaignStatus CampaignStatus `json:"campaign_status"`
	RoomStatus     RoomStatus     `json:"room_status"`
	DMOnline       bool           `json:"dm_online"`
	Seats          []SeatView     `json:"seats"`
}

// Seat returns the seat view with the given id.
func (s RoomState) Seat(seatID string) (SeatView, bool) {
	for _, v := range s.Seats {
		if v.SeatID == seatID {
			return v, true
		}
	}
	return SeatView{}, false
}

// RoomSummary is the lightweight pre-join listing entry.
type RoomSummary struct {
	SessionID       string         `json:"session_id"`
	PlayerSeatCount int            `json:"player_seat_count"`
	OccupiedSeats   int            `json:"occupied_seats"`
	BoundCharacters int            `json:"bound_characters"`
	DMOnline        bool           `json:"dm_online"`
	CampaignStatus  CampaignStatus `json:"campaign_status"`
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
