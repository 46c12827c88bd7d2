package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/network"
)

// Broadcaster is the fan-out the coordinator publishes committed changes to.
type Broadcaster interface {
	Broadcast(sessionID string, event network.Event, scope broadcast.Scope) broadcast.Result
}

// Membership is the external authority on who belongs to a session.
type Membership interface {
	IsMember(ctx context.Context, sessionID, userID string) (bool, error)
}

// MemberRegistry is implemented by Membership backends the DM can edit.
type MemberRegistry interface {
	AddMember(ctx context.Context, sessionID, userID string) error
	RemoveMember(ctx context.Context, sessionID, userID string) error
}

// CharacterFactory builds a character from a client payload. It may be slow
// and is never called inside a session critical section.
type CharacterFactory interface {
	CreateCharacter(ctx context.Context, sessionID string, payload json.RawMessage) (string, error)
}

// SessionMetadata describes a session to the content generator.
type SessionMetadata struct {
	SessionID       string
	DMUserID        string
	PlayerSeatCount int
}

// CharacterRef is a bound character at campaign start.
type CharacterRef struct {
	SeatID      string
	SlotIndex   int
	CharacterID string
	OwnerUserID string
}

// ContentGenerator produces the campaign opening after start.
type ContentGenerator interface {
	GenerateOpening(ctx context.Context, meta SessionMetadata, characters []CharacterRef) (string, error)
}

// Recorder receives mutation outcomes (metrics hook).
type Recorder interface {
	ObserveMutation(op string, code errs.Code, took time.Duration)
	RoomsChanged(delta int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMutation(string, errs.Code, time.Duration) {}
func (nopRecorder) RoomsChanged(int)                                 {}

type openMembership struct{}

func (openMembership) IsMember(context.Context, string, string) (bool, error) { return true, nil }

// GameplayHandler advances the game for one action. It is only ever invoked
// behind the PresenceGate.
type GameplayHandler interface {
	HandleAction(ctx context.Context, sessionID, userID string, action json.RawMessage) error
}
