// room/coordinator.go
package room

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/models"
	"github.com/wfunc/seatkeeper/network"
	"github.com/wfunc/seatkeeper/persistence"
	"github.com/wfunc/seatkeeper/session"
)

// Config tunes coordinator behaviour.
type Config struct {
	MinCharacters  int
	MaxPlayerSeats int
	OpeningWorkers int
	OpeningTimeout time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		MinCharacters:  1,
		MaxPlayerSeats: 8,
		OpeningWorkers: 4,
		OpeningTimeout: 30 * time.Second,
	}
}

// Dependencies wires the coordinator to its store, tracker and collaborators.
// Membership defaults to letting everyone in; Recorder defaults to a no-op;
// a nil ContentGenerator disables opening generation.
type Dependencies struct {
	Store       persistence.SeatStore
	Tracker     *session.Tracker
	Broadcaster Broadcaster
	Membership  Membership
	Characters  CharacterFactory
	Content     ContentGenerator
	Recorder    Recorder
}

// Coordinator is the only writer of seat state. Every mutation of a session
// runs inside that session's critical section and broadcasts after commit.
type Coordinator struct {
	store       persistence.SeatStore
	tracker     *session.Tracker
	broadcaster Broadcaster
	members     Membership
	characters  CharacterFactory
	content     ContentGenerator
	recorder    Recorder
	cfg         Config
	rooms       *Manager

	openings  conc.WaitGroup
	slots     chan struct{}
	baseCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

func NewCoordinator(deps Dependencies, cfg Config) *Coordinator {
	if cfg.OpeningWorkers <= 0 {
		cfg.OpeningWorkers = 1
	}
	if cfg.OpeningTimeout <= 0 {
		cfg.OpeningTimeout = DefaultConfig().OpeningTimeout
	}
	if cfg.MaxPlayerSeats <= 0 {
		cfg.MaxPlayerSeats = DefaultConfig().MaxPlayerSeats
	}
	if deps.Membership == nil {
		deps.Membership = openMembership{}
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		store:       deps.Store,
		tracker:     deps.Tracker,
		broadcaster: deps.Broadcaster,
		members:     deps.Membership,
		characters:  deps.Characters,
		content:     deps.Content,
		recorder:    deps.Recorder,
		cfg:         cfg,
		rooms:       NewRoomManager(),
		slots:       make(chan struct{}, cfg.OpeningWorkers),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Close cancels in-flight opening generation and waits for it to finish.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if r := c.openings.WaitAndRecover(); r != nil {
			logger.Log.Errorw("opening generation panicked", "panic", r.Value, "stack", string(r.Stack))
		}
	})
}

func (c *Coordinator) observe(op string, start time.Time, err *error) {
	c.recorder.ObserveMutation(op, errs.CodeOf(*err), time.Since(start))
}

// CreateRoom persists a new session with one DM seat and playerSeatCount
// player seats, all vacant.
func (c *Coordinator) CreateRoom(ctx context.Context, sessionID, dmUserID string, playerSeatCount int) (state models.RoomState, err error) {
	defer c.observe("create_room", timeNow(), &err)

	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(dmUserID) == "" {
		return state, errs.New(errs.CodeInvalidArgument, "session_id and dm_user_id are required")
	}
	if playerSeatCount < 1 || playerSeatCount > c.cfg.MaxPlayerSeats {
		return state, errs.WithMetadata(errs.CodeInvalidArgument, "player seat count out of range", map[string]string{
			"max": strconv.Itoa(c.cfg.MaxPlayerSeats),
		})
	}

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	now := time.Now().UTC()
	sess := models.Session{
		ID:              sessionID,
		DMUserID:        dmUserID,
		PlayerSeatCount: playerSeatCount,
		CampaignStatus:  models.CampaignSetup,
		RoomStatus:      models.RoomWaiting,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	seats := make([]models.Seat, 0, playerSeatCount+1)
	seats = append(seats, models.Seat{ID: uuid.NewString(), SessionID: sessionID, Type: models.SeatTypeDM})
	for i := 1; i <= playerSeatCount; i++ {
		seats = append(seats, models.Seat{ID: uuid.NewString(), SessionID: sessionID, Type: models.SeatTypePlayer, SlotIndex: i})
	}

	if err = c.store.CreateSession(ctx, sess, seats); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			return state, errs.WithMetadata(errs.CodeAlreadyExists, "session already exists", map[string]string{"session_id": sessionID})
		}
		return state, errs.Internal("create session", err)
	}
	c.recorder.RoomsChanged(1)
	logger.Log.Infow("room created", "session_id", sessionID, "dm_user_id", dmUserID, "player_seats", playerSeatCount)
	return c.snapshot(sess, seats), nil
}

// OccupySeat claims a vacant seat for requesterID.
func (c *Coordinator) OccupySeat(ctx context.Context, sessionID, seatID, requesterID string) (view models.SeatView, err error) {
	defer c.observe("occupy_seat", timeNow(), &err)
	return c.occupy(ctx, sessionID, seatID, requesterID, false)
}

// SwitchSeat releases the requester's current seat and claims seatID in one
// store transaction. Without a current seat it behaves like OccupySeat.
func (c *Coordinator) SwitchSeat(ctx context.Context, sessionID, seatID, requesterID string) (view models.SeatView, err error) {
	defer c.observe("switch_seat", timeNow(), &err)
	return c.occupy(ctx, sessionID, seatID, requesterID, true)
}

func (c *Coordinator) occupy(ctx context.Context, sessionID, seatID, requesterID string, switching bool) (models.SeatView, error) {
	if requesterID == "" {
		return models.SeatView{}, errs.New(errs.CodeInvalidArgument, "requester is required")
	}
	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return models.SeatView{}, err
	}
	if requesterID != sess.DMUserID {
		if err := c.checkMember(ctx, sessionID, requesterID); err != nil {
			return models.SeatView{}, err
		}
	}

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	seats, err := c.seats(ctx, sessionID)
	if err != nil {
		return models.SeatView{}, err
	}
	target, ok := findSeat(seats, seatID)
	if !ok {
		return models.SeatView{}, seatNotFound(sessionID, seatID)
	}
	switch {
	case target.Type == models.SeatTypeDM && requesterID != sess.DMUserID:
		return models.SeatView{}, errs.WithMetadata(errs.CodeNotAuthorized, "only the dm may hold the dm seat", map[string]string{"seat_id": seatID})
	case target.Type == models.SeatTypePlayer && requesterID == sess.DMUserID:
		return models.SeatView{}, errs.WithMetadata(errs.CodeNotAuthorized, "the dm plays from the dm seat", map[string]string{"seat_id": seatID})
	}

	if target.OwnerUserID == requesterID {
		return c.view(sessionID, target), nil
	}
	if !target.Vacant() {
		return models.SeatView{}, errs.WithMetadata(errs.CodeSeatConflict, "seat is occupied", map[string]string{"seat_id": seatID})
	}

	updates := make([]persistence.SeatUpdate, 0, 2)
	if current, held := ownedBy(seats, requesterID); held {
		if !switching {
			return models.SeatView{}, errs.WithMetadata(errs.CodeAlreadyHasSeat, "user already holds a seat", map[string]string{
				"seat_id": current.ID,
			})
		}
		updates = append(updates, release(current))
	}
	updates = append(updates, persistence.SeatUpdate{
		SeatID:          target.ID,
		ExpectedVersion: target.Version,
		OwnerUserID:     requesterID,
		CharacterID:     target.CharacterID,
	})

	updated, err := c.store.CompareAndSwapSeats(ctx, sessionID, updates...)
	if err != nil {
		return models.SeatView{}, casError(sessionID, seatID, err)
	}

	c.tracker.ResolveSeat(sessionID, requesterID, target.ID)
	var claimed models.Seat
	for _, s := range updated {
		c.broadcastSeat(sessionID, s)
		if s.ID == target.ID {
			claimed = s
		}
	}
	logger.Log.Infow("seat occupied", "session_id", sessionID, "seat_id", seatID, "user_id", requesterID, "switch", len(updated) > 1)
	return c.view(sessionID, claimed), nil
}

// ReleaseSeat lets the owner give up a seat. The bound character stays.
func (c *Coordinator) ReleaseSeat(ctx context.Context, sessionID, seatID, requesterID string) (err error) {
	defer c.observe("release_seat", timeNow(), &err)

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	seat, err := c.seat(ctx, sessionID, seatID)
	if err != nil {
		return err
	}
	if seat.Vacant() || seat.OwnerUserID != requesterID {
		return errs.WithMetadata(errs.CodeNotAuthorized, "only the owner may release a seat", map[string]string{"seat_id": seatID})
	}
	updated, err := c.store.CompareAndSwapSeats(ctx, sessionID, release(seat))
	if err != nil {
		return casError(sessionID, seatID, err)
	}
	c.tracker.ResolveSeat(sessionID, requesterID, "")
	for _, s := range updated {
		c.broadcastSeat(sessionID, s)
	}
	logger.Log.Infow("seat released", "session_id", sessionID, "seat_id", seatID, "user_id", requesterID)
	return nil
}

// VacateSeat lets the DM clear any seat. Vacating an empty seat is a no-op.
func (c *Coordinator) VacateSeat(ctx context.Context, sessionID, seatID, requesterID string) (err error) {
	defer c.observe("vacate_seat", timeNow(), &err)

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if requesterID != sess.DMUserID {
		return errs.WithMetadata(errs.CodeNotAuthorized, "only the dm may vacate seats", map[string]string{"seat_id": seatID})
	}

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	seat, err := c.seat(ctx, sessionID, seatID)
	if err != nil {
		return err
	}
	if seat.Vacant() {
		return nil
	}
	previous := seat.OwnerUserID
	updated, err := c.store.CompareAndSwapSeats(ctx, sessionID, release(seat))
	if err != nil {
		return casError(sessionID, seatID, err)
	}
	c.tracker.ResolveSeat(sessionID, previous, "")
	for _, s := range updated {
		c.broadcastSeat(sessionID, s)
	}
	c.broadcaster.Broadcast(sessionID, network.Event{
		Type:    network.EventPlayerVacated,
		Payload: network.PlayerVacatedPayload{SeatID: seatID, PreviousOwner: previous},
	}, broadcast.ScopeAll)
	logger.Log.Infow("seat vacated", "session_id", sessionID, "seat_id", seatID, "previous_owner", previous)
	return nil
}

// AssignCharacter builds a character from payload and binds it to a player
// seat. The factory runs outside the critical section; the binding is then
// re-validated and committed with a version check.
func (c *Coordinator) AssignCharacter(ctx context.Context, sessionID, seatID string, payload json.RawMessage, requesterID string) (view models.SeatView, err error) {
	defer c.observe("assign_character", timeNow(), &err)

	if len(payload) == 0 || string(payload) == "null" {
		return view, errs.New(errs.CodeInvalidArgument, "character payload is required")
	}
	if c.characters == nil {
		return view, errs.New(errs.CodeInternal, "character factory not configured")
	}
	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return view, err
	}

	unlock := c.rooms.Lock(sessionID)
	seat, err := c.seat(ctx, sessionID, seatID)
	unlock()
	if err != nil {
		return view, err
	}
	if err := canAssign(sess, seat, requesterID); err != nil {
		return view, err
	}

	characterID, err := c.characters.CreateCharacter(ctx, sessionID, payload)
	if err != nil {
		var coded *errs.Error
		if errors.As(err, &coded) {
			return view, err
		}
		return view, errs.Internal("create character", err)
	}

	unlock = c.rooms.Lock(sessionID)
	defer unlock()

	current, err := c.seat(ctx, sessionID, seatID)
	if err != nil {
		c.orphaned(sessionID, seatID, characterID, err)
		return view, err
	}
	if current.Version != seat.Version {
		if err := canAssign(sess, current, requesterID); err != nil {
			c.orphaned(sessionID, seatID, characterID, err)
			return view, err
		}
	}
	updated, err := c.store.CompareAndSwapSeats(ctx, sessionID, persistence.SeatUpdate{
		SeatID:          current.ID,
		ExpectedVersion: current.Version,
		OwnerUserID:     current.OwnerUserID,
		CharacterID:     characterID,
	})
	if err != nil {
		err = casError(sessionID, seatID, err)
		c.orphaned(sessionID, seatID, characterID, err)
		return view, err
	}
	for _, s := range updated {
		c.broadcastSeat(sessionID, s)
		view = c.view(sessionID, s)
	}
	logger.Log.Infow("character assigned", "session_id", sessionID, "seat_id", seatID, "character_id", characterID, "user_id", requesterID)
	return view, nil
}

func canAssign(sess models.Session, seat models.Seat, requesterID string) error {
	if seat.Type != models.SeatTypePlayer {
		return errs.WithMetadata(errs.CodeInvalidArgument, "characters bind to player seats only", map[string]string{"seat_id": seat.ID})
	}
	if seat.CharacterID != "" {
		return errs.WithMetadata(errs.CodeAlreadyAssigned, "seat already has a character", map[string]string{
			"seat_id":      seat.ID,
			"character_id": seat.CharacterID,
		})
	}
	if requesterID != sess.DMUserID && (seat.Vacant() || seat.OwnerUserID != requesterID) {
		return errs.WithMetadata(errs.CodeNotAuthorized, "only the seat owner or the dm may assign a character", map[string]string{"seat_id": seat.ID})
	}
	return nil
}

func (c *Coordinator) orphaned(sessionID, seatID, characterID string, cause error) {
	logger.Log.Warnw("character created but not bound", "session_id", sessionID, "seat_id", seatID, "character_id", characterID, "error", cause)
}

// GetRoomState returns a consistent post-commit snapshot merged with presence.
func (c *Coordinator) GetRoomState(ctx context.Context, sessionID string) (models.RoomState, error) {
	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return models.RoomState{}, err
	}
	seats, err := c.seats(ctx, sessionID)
	if err != nil {
		return models.RoomState{}, err
	}
	return c.snapshot(sess, seats), nil
}

// GetRoomSummary returns the lightweight listing view of a session.
func (c *Coordinator) GetRoomSummary(ctx context.Context, sessionID string) (models.RoomSummary, error) {
	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return models.RoomSummary{}, err
	}
	seats, err := c.seats(ctx, sessionID)
	if err != nil {
		return models.RoomSummary{}, err
	}
	summary := models.RoomSummary{
		SessionID:       sess.ID,
		PlayerSeatCount: sess.PlayerSeatCount,
		CampaignStatus:  sess.CampaignStatus,
	}
	for _, s := range seats {
		if s.Type != models.SeatTypePlayer {
			continue
		}
		if !s.Vacant() {
			summary.OccupiedSeats++
		}
		if s.CharacterID != "" {
			summary.BoundCharacters++
		}
	}
	_, summary.DMOnline = c.tracker.DM(sessionID)
	return summary, nil
}

// ListRooms summarises every stored session.
func (c *Coordinator) ListRooms(ctx context.Context) ([]models.RoomSummary, error) {
	sessions, err := c.store.ListSessions(ctx)
	if err != nil {
		return nil, errs.Internal("list sessions", err)
	}
	out := make([]models.RoomSummary, 0, len(sessions))
	for _, s := range sessions {
		summary, err := c.GetRoomSummary(ctx, s.ID)
		if err != nil {
			if errs.CodeOf(err) == errs.CodeNotFound {
				continue
			}
			return nil, err
		}
		out = append(out, summary)
	}
	return out, nil
}

// DeleteRoom tears a session down: live connections are closed and the
// session with its seats is removed from the store.
func (c *Coordinator) DeleteRoom(ctx context.Context, sessionID, requesterID string) (err error) {
	defer c.observe("delete_room", timeNow(), &err)

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if requesterID != sess.DMUserID {
		return errs.New(errs.CodeNotAuthorized, "only the dm may delete the room")
	}

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	if err = c.store.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return sessionNotFound(sessionID)
		}
		return errs.Internal("delete session", err)
	}
	for _, conn := range c.tracker.RemoveSession(sessionID) {
		if cerr := conn.Close(); cerr != nil {
			logger.Log.Debugw("close connection", "session_id", sessionID, "conn_id", conn.ID, "error", cerr)
		}
	}
	c.recorder.RoomsChanged(-1)
	logger.Log.Infow("room deleted", "session_id", sessionID)
	return nil
}

func (c *Coordinator) checkMember(ctx context.Context, sessionID, userID string) error {
	ok, err := c.members.IsMember(ctx, sessionID, userID)
	if err != nil {
		return errs.Internal("membership lookup", err)
	}
	if !ok {
		return errs.WithMetadata(errs.CodeNotAuthorized, "not a member of this session", map[string]string{
			"session_id": sessionID,
			"user_id":    userID,
		})
	}
	return nil
}

func (c *Coordinator) session(ctx context.Context, sessionID string) (models.Session, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return sess, sessionNotFound(sessionID)
		}
		return sess, errs.Internal("get session", err)
	}
	return sess, nil
}

func (c *Coordinator) seats(ctx context.Context, sessionID string) ([]models.Seat, error) {
	seats, err := c.store.ListSeats(ctx, sessionID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return nil, sessionNotFound(sessionID)
		}
		return nil, errs.Internal("list seats", err)
	}
	return seats, nil
}

func (c *Coordinator) seat(ctx context.Context, sessionID, seatID string) (models.Seat, error) {
	seat, err := c.store.GetSeat(ctx, sessionID, seatID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return seat, seatNotFound(sessionID, seatID)
		}
		return seat, errs.Internal("get seat", err)
	}
	return seat, nil
}

func (c *Coordinator) snapshot(sess models.Session, seats []models.Seat) models.RoomState {
	online := c.tracker.OnlineUsers(sess.ID)
	_, dmOnline := c.tracker.DM(sess.ID)
	state := models.RoomState{
		SessionID:      sess.ID,
		DMUserID:       sess.DMUserID,
		CampaignStatus: sess.CampaignStatus,
		RoomStatus:     sess.RoomStatus,
		DMOnline:       dmOnline,
		Seats:          make([]models.SeatView, 0, len(seats)),
	}
	for _, s := range seats {
		state.Seats = append(state.Seats, models.NewSeatView(s, s.OwnerUserID != "" && online[s.OwnerUserID]))
	}
	return state
}

func (c *Coordinator) view(sessionID string, seat models.Seat) models.SeatView {
	return models.NewSeatView(seat, c.tracker.IsUserOnline(sessionID, seat.OwnerUserID))
}

func (c *Coordinator) broadcastSeat(sessionID string, seat models.Seat) {
	c.broadcaster.Broadcast(sessionID, network.Event{
		Type:    network.EventSeatUpdated,
		Payload: c.view(sessionID, seat),
	}, broadcast.ScopeAll)
}

func release(seat models.Seat) persistence.SeatUpdate {
	return persistence.SeatUpdate{
		SeatID:          seat.ID,
		ExpectedVersion: seat.Version,
		CharacterID:     seat.CharacterID,
	}
}

func findSeat(seats []models.Seat, seatID string) (models.Seat, bool) {
	for _, s := range seats {
		if s.ID == seatID {
			return s, true
		}
	}
	return models.Seat{}, false
}

func ownedBy(seats []models.Seat, userID string) (models.Seat, bool) {
	for _, s := range seats {
		if s.OwnerUserID == userID {
			return s, true
		}
	}
	return models.Seat{}, false
}

func dmSeat(seats []models.Seat) (models.Seat, bool) {
	for _, s := range seats {
		if s.Type == models.SeatTypeDM {
			return s, true
		}
	}
	return models.Seat{}, false
}

func sessionNotFound(sessionID string) error {
	return errs.WithMetadata(errs.CodeNotFound, "session not found", map[string]string{"session_id": sessionID})
}

func seatNotFound(sessionID, seatID string) error {
	return errs.WithMetadata(errs.CodeNotFound, "seat not found", map[string]string{
		"session_id": sessionID,
		"seat_id":    seatID,
	})
}

// casError maps store write failures onto the coordinator taxonomy.
func casError(sessionID, seatID string, err error) error {
	meta := map[string]string{"session_id": sessionID, "seat_id": seatID}
	switch {
	case errors.Is(err, persistence.ErrVersionMismatch):
		return errs.WithMetadata(errs.CodeSeatConflict, "seat changed since it was read", meta)
	case errors.Is(err, persistence.ErrOwnerTaken):
		return errs.WithMetadata(errs.CodeAlreadyHasSeat, "user already holds a seat", meta)
	case errors.Is(err, persistence.ErrCharacterBound):
		return errs.WithMetadata(errs.CodeAlreadyAssigned, "seat already has a character", meta)
	case errors.Is(err, persistence.ErrRecordNotFound):
		return seatNotFound(sessionID, seatID)
	default:
		return errs.Internal("update seats", err)
	}
}
