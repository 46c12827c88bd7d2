package room

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/models"
	"github.com/wfunc/seatkeeper/network"
	"github.com/wfunc/seatkeeper/persistence"
)

var timeNow = time.Now

// StartCampaign moves the session from setup to active. The DM must be
// connected and seated and enough characters must be bound. The opening is
// generated in the background and delivered as opening_ready/opening_failed.
func (c *Coordinator) StartCampaign(ctx context.Context, sessionID, requesterID string) (err error) {
	defer c.observe("start_campaign", timeNow(), &err)

	unlock := c.rooms.Lock(sessionID)
	defer unlock()

	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return err
	}
	if requesterID != sess.DMUserID {
		return errs.New(errs.CodeNotAuthorized, "only the dm may start the campaign")
	}
	if sess.CampaignStatus == models.CampaignActive {
		return errs.WithMetadata(errs.CodeCampaignActive, "campaign already active", map[string]string{"session_id": sessionID})
	}
	if err = c.dmPresent(ctx, sess); err != nil {
		return err
	}

	seats, err := c.seats(ctx, sessionID)
	if err != nil {
		return err
	}
	refs := boundCharacters(seats)
	if len(refs) < c.cfg.MinCharacters {
		return errs.WithMetadata(errs.CodeNotReady, "not enough characters bound", map[string]string{
			"bound":    strconv.Itoa(len(refs)),
			"required": strconv.Itoa(c.cfg.MinCharacters),
		})
	}

	if err = c.store.TransitionCampaign(ctx, sessionID, models.CampaignSetup, models.CampaignActive); err != nil {
		switch {
		case errors.Is(err, persistence.ErrVersionMismatch):
			return errs.WithMetadata(errs.CodeCampaignActive, "campaign already active", map[string]string{"session_id": sessionID})
		case errors.Is(err, persistence.ErrRecordNotFound):
			return sessionNotFound(sessionID)
		default:
			return errs.Internal("transition campaign", err)
		}
	}

	c.broadcaster.Broadcast(sessionID, network.Event{Type: network.EventCampaignStarted}, broadcast.ScopeAll)
	logger.Log.Infow("campaign started", "session_id", sessionID, "characters", len(refs))

	c.dispatchOpening(SessionMetadata{
		SessionID:       sess.ID,
		DMUserID:        sess.DMUserID,
		PlayerSeatCount: sess.PlayerSeatCount,
	}, refs)
	return nil
}

func boundCharacters(seats []models.Seat) []CharacterRef {
	var refs []CharacterRef
	for _, s := range seats {
		if s.Type == models.SeatTypePlayer && s.CharacterID != "" {
			refs = append(refs, CharacterRef{
				SeatID:      s.ID,
				SlotIndex:   s.SlotIndex,
				CharacterID: s.CharacterID,
				OwnerUserID: s.OwnerUserID,
			})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].SlotIndex < refs[j].SlotIndex })
	return refs
}

// dispatchOpening never blocks the caller: the goroutine waits for a free
// worker slot on its own.
func (c *Coordinator) dispatchOpening(meta SessionMetadata, refs []CharacterRef) {
	if c.content == nil {
		return
	}
	c.openings.Go(func() {
		select {
		case c.slots <- struct{}{}:
		case <-c.baseCtx.Done():
			return
		}
		defer func() { <-c.slots }()

		ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.OpeningTimeout)
		defer cancel()

		text, err := c.content.GenerateOpening(ctx, meta, refs)
		event := network.Event{Type: network.EventOpeningReady, Payload: network.OpeningReadyPayload{Text: text}}
		if err != nil {
			logger.Log.Warnw("opening generation failed", "session_id", meta.SessionID, "error", err)
			event = network.Event{Type: network.EventOpeningFailed, Payload: network.OpeningFailedPayload{Reason: err.Error()}}
		}

		unlock := c.rooms.Lock(meta.SessionID)
		defer unlock()
		c.broadcaster.Broadcast(meta.SessionID, event, broadcast.ScopeAll)
	})
}
