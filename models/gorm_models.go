// models/gorm_models.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

// GormSession 房间模型
type GormSession struct {
	ID              string `gorm:"primaryKey;size:64"`
	DMUserID        string `gorm:"size:64;not null"`
	PlayerSeatCount int    `gorm:"not null"`
	CampaignStatus  string `gorm:"size:16;not null;default:setup"`
	RoomStatus      string `gorm:"size:16;not null;default:waiting"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Seats           []GormSeat `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

func (GormSession) TableName() string { return "sessions" }

// GormSeat 座位模型; OwnerUserID is unique per session while non-null.
type GormSeat struct {
	ID          string  `gorm:"primaryKey;size:64"`
	SessionID   string  `gorm:"size:64;not null;index;uniqueIndex:idx_seat_owner,where:owner_user_id IS NOT NULL"`
	SeatType    string  `gorm:"size:16;not null"`
	SlotIndex   int     `gorm:"not null"`
	OwnerUserID *string `gorm:"size:64;uniqueIndex:idx_seat_owner,where:owner_user_id IS NOT NULL"`
	CharacterID *string `gorm:"size:64"`
	Version     int64   `gorm:"not null;default:0"`
	UpdatedAt   time.Time
}

func (GormSeat) TableName() string { return "seats" }

// GormCharacter 角色模型, built by the character collaborator.
type GormCharacter struct {
	ID        string         `gorm:"primaryKey;size:64"`
	SessionID string         `gorm:"size:64;not null;index"`
	Name      string         `gorm:"size:128"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt time.Time
}

func (GormCharacter) TableName() string { return "characters" }

// GormMember 成员模型
type GormMember struct {
	SessionID string `gorm:"primaryKey;size:64"`
	UserID    string `gorm:"primaryKey;size:64"`
	CreatedAt time.Time
}

func (GormMember) TableName() string { return "session_members" }

// ToSession converts the row into the domain model.
func (m GormSession) ToSession() Session {
	return Session{
		ID:              m.ID,
		DMUserID:        m.DMUserID,
		PlayerSeatCount: m.PlayerSeatCount,
		CampaignStatus:  CampaignStatus(m.CampaignStatus),
		RoomStatus:      RoomStatus(m.RoomStatus),
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}

// ToSeat converts the row into the domain model.
func (m GormSeat) ToSeat() Seat {
	seat := Seat{
		ID:        m.ID,
		SessionID: m.SessionID,
		Type:      SeatType(m.SeatType),
		SlotIndex: m.SlotIndex,
		Version:   m.Version,
	}
	if m.OwnerUserID != nil {
		seat.OwnerUserID = *m.OwnerUserID
	}
	if m.CharacterID != nil {
		seat.CharacterID = *m.CharacterID
	}
	return seat
}

// NewGormSeat converts a domain seat into a row.
func NewGormSeat(s Seat) GormSeat {
	return GormSeat{
		ID:          s.ID,
		SessionID:   s.SessionID,
		SeatType:    string(s.Type),
		SlotIndex:   s.SlotIndex,
		OwnerUserID: nullable(s.OwnerUserID),
		CharacterID: nullable(s.CharacterID),
		Version:     s.Version,
	}
}
