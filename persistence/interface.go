// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/wfunc/seatkeeper/models"
)

// SeatUpdate is one seat write inside a compare-and-swap batch. It commits
// only if the stored version still equals ExpectedVersion; the stored
// version becomes ExpectedVersion+1.
type SeatUpdate struct {
	SeatID          string
	ExpectedVersion int64
	OwnerUserID     string
	CharacterID     string
}

// apply validates u against the current seat and returns the updated copy.
func (u SeatUpdate) apply(current models.Seat) (models.Seat, error) {
	if current.Version != u.ExpectedVersion {
		return current, ErrVersionMismatch
	}
	if current.CharacterID != "" && u.CharacterID != current.CharacterID {
		return current, ErrCharacterBound
	}
	next := current
	next.OwnerUserID = u.OwnerUserID
	next.CharacterID = u.CharacterID
	next.Version = current.Version + 1
	return next, nil
}

// SeatStore is the durable home of sessions and their seats. Every write is
// atomic: a batch either commits completely or not at all.
type SeatStore interface {
	CreateSession(ctx context.Context, session models.Session, seats []models.Seat) error
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	ListSessions(ctx context.Context) ([]models.Session, error)
	ListSeats(ctx context.Context, sessionID string) ([]models.Seat, error)
	GetSeat(ctx context.Context, sessionID, seatID string) (models.Seat, error)
	CompareAndSwapSeats(ctx context.Context, sessionID string, updates ...SeatUpdate) ([]models.Seat, error)
	TransitionCampaign(ctx context.Context, sessionID string, from, to models.CampaignStatus) error
	SetRoomStatus(ctx context.Context, sessionID string, status models.RoomStatus) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}

// 错误定义
var (
	ErrRecordNotFound  = errors.New("record not found")
	ErrAlreadyExists   = errors.New("record already exists")
	ErrVersionMismatch = errors.New("version mismatch")
	ErrOwnerTaken      = errors.New("owner already holds a seat in this session")
	ErrCharacterBound  = errors.New("seat character is already bound")
)

// Open builds the store selected by driver.
func Open(driver string, pg PostgresConfig) (SeatStore, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "gorm":
		return NewGormPostgreSQL(pg)
	case "postgres":
		return NewPostgreSQL(pg)
	default:
		return nil, errors.New("unknown database driver: " + driver)
	}
}

// PostgresConfig holds connection settings shared by the SQL stores.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c PostgresConfig) dsn() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, sslmode)
}
