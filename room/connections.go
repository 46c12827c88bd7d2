package room

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/models"
	"github.com/wfunc/seatkeeper/network"
	"github.com/wfunc/seatkeeper/persistence"
	"github.com/wfunc/seatkeeper/session"
)

// ConnectDM registers the DM's socket, claims the vacant DM seat for the DM
// and marks the room active. A second live DM socket is rejected.
func (c *Coordinator) ConnectDM(ctx context.Context, sessionID string, conn network.Connection, userID string) (dm *session.Connection, err error) {
	defer c.observe("connect_dm", timeNow(), &err)

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != sess.DMUserID {
		return nil, errs.WithMetadata(errs.CodeNotAuthorized, "only the session owner may connect as dm", map[string]string{
			"session_id": sessionID,
			"user_id":    userID,
		})
	}

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	seats, err := c.seats(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	seat, ok := dmSeat(seats)
	if !ok {
		return nil, errs.Internal("connect dm", errors.New("session has no dm seat"))
	}

	dm = session.NewConnection(uuid.NewString(), sessionID, userID, session.ConnectionDM, conn)
	if err = c.tracker.Register(dm); err != nil {
		return nil, err
	}

	if seat.Vacant() {
		updated, casErr := c.store.CompareAndSwapSeats(ctx, sessionID, persistence.SeatUpdate{
			SeatID:          seat.ID,
			ExpectedVersion: seat.Version,
			OwnerUserID:     userID,
		})
		if casErr != nil {
			c.tracker.Remove(dm.ID)
			return nil, casError(sessionID, seat.ID, casErr)
		}
		seat = updated[0]
	}
	if seat.OwnerUserID == userID {
		c.tracker.Bind(dm.ID, seat.ID)
	}

	if err = c.store.SetRoomStatus(ctx, sessionID, models.RoomActive); err != nil {
		c.tracker.Remove(dm.ID)
		return nil, errs.Internal("set room status", err)
	}

	c.broadcaster.Broadcast(sessionID, network.Event{Type: network.EventDMJoined}, broadcast.ScopeAll)
	c.broadcastSeat(sessionID, seat)
	logger.Log.Infow("dm connected", "session_id", sessionID, "conn_id", dm.ID, "seat_id", dm.SeatID())
	return dm, nil
}

// ConnectPlayer registers a player's socket and resolves the seat the user
// already owns, if any. Ownership is never changed here.
func (c *Coordinator) ConnectPlayer(ctx context.Context, sessionID string, conn network.Connection, userID string) (player *session.Connection, err error) {
	defer c.observe("connect_player", timeNow(), &err)

	if userID == "" {
		return nil, errs.New(errs.CodeInvalidArgument, "user_id is required")
	}
	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if userID != sess.DMUserID {
		if err := c.checkMember(ctx, sessionID, userID); err != nil {
			return nil, err
		}
	}

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	seats, err := c.seats(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	wasOnline := c.tracker.IsUserOnline(sessionID, userID)

	player = session.NewConnection(uuid.NewString(), sessionID, userID, session.ConnectionPlayer, conn)
	if err = c.tracker.Register(player); err != nil {
		return nil, err
	}
	seat, seated := ownedBy(seats, userID)
	if seated {
		c.tracker.Bind(player.ID, seat.ID)
		if !wasOnline {
			c.broadcastSeat(sessionID, seat)
		}
	}
	logger.Log.Infow("player connected", "session_id", sessionID, "conn_id", player.ID, "user_id", userID, "seat_id", player.SeatID())
	return player, nil
}

// Disconnect destroys a connection. Seat ownership is left untouched; the
// DM leaving puts the room back to waiting.
func (c *Coordinator) Disconnect(ctx context.Context, connectionID string) {
	conn, ok := c.tracker.Get(connectionID)
	if !ok {
		return
	}
	sessionID := conn.SessionID

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	if _, ok := c.tracker.Remove(connectionID); !ok {
		return
	}
	if err := conn.Close(); err != nil {
		logger.Log.Debugw("close connection", "session_id", sessionID, "conn_id", connectionID, "error", err)
	}

	if conn.Type == session.ConnectionDM {
		if err := c.store.SetRoomStatus(ctx, sessionID, models.RoomWaiting); err != nil && !errors.Is(err, persistence.ErrRecordNotFound) {
			logger.Log.Errorw("set room status", "session_id", sessionID, "error", err)
		}
		c.broadcaster.Broadcast(sessionID, network.Event{Type: network.EventDMLeft}, broadcast.ScopeAll)
	}

	if seatID := conn.SeatID(); seatID != "" && !c.tracker.IsUserOnline(sessionID, conn.UserID) {
		seat, err := c.store.GetSeat(ctx, sessionID, seatID)
		if err == nil {
			c.broadcastSeat(sessionID, seat)
		} else if !errors.Is(err, persistence.ErrRecordNotFound) {
			logger.Log.Errorw("load seat after disconnect", "session_id", sessionID, "seat_id", seatID, "error", err)
		}
	}
	logger.Log.Infow("connection closed", "session_id", sessionID, "conn_id", connectionID, "user_id", conn.UserID, "type", conn.Type)
}

// DMPresent returns DmAbsent unless a live DM connection is mapped to the
// DM seat and that seat is owned by the session's DM.
func (c *Coordinator) DMPresent(ctx context.Context, sessionID string) error {
	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return err
	}
	return c.dmPresent(ctx, sess)
}

func (c *Coordinator) dmPresent(ctx context.Context, sess models.Session) error {
	absent := errs.WithMetadata(errs.CodeDmAbsent, "dm is not connected", map[string]string{"session_id": sess.ID})
	dm, ok := c.tracker.DM(sess.ID)
	if !ok || dm.SeatID() == "" {
		return absent
	}
	seat, err := c.seat(ctx, sess.ID, dm.SeatID())
	if err != nil {
		if errs.CodeOf(err) == errs.CodeNotFound {
			return absent
		}
		return err
	}
	if seat.Type != models.SeatTypeDM || seat.OwnerUserID != sess.DMUserID {
		return absent
	}
	return nil
}
