package room

import (
	"context"
	"strings"

	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/logger"
)

// InviteMember lets the DM admit userID to the session.
func (c *Coordinator) InviteMember(ctx context.Context, sessionID, userID, requesterID string) (err error) {
	defer c.observe("invite_member", timeNow(), &err)

	registry, err := c.registry(ctx, sessionID, userID, requesterID)
	if err != nil {
		return err
	}
	if err = registry.AddMember(ctx, sessionID, userID); err != nil {
		return errs.Internal("add member", err)
	}
	logger.Log.Infow("member invited", "session_id", sessionID, "user_id", userID)
	return nil
}

// RevokeMember removes userID from the session. A seat the user holds is
// left alone; the DM vacates it separately.
func (c *Coordinator) RevokeMember(ctx context.Context, sessionID, userID, requesterID string) (err error) {
	defer c.observe("revoke_member", timeNow(), &err)

	registry, err := c.registry(ctx, sessionID, userID, requesterID)
	if err != nil {
		return err
	}
	if err = registry.RemoveMember(ctx, sessionID, userID); err != nil {
		return errs.Internal("remove member", err)
	}
	logger.Log.Infow("member revoked", "session_id", sessionID, "user_id", userID)
	return nil
}

func (c *Coordinator) registry(ctx context.Context, sessionID, userID, requesterID string) (MemberRegistry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errs.New(errs.CodeInvalidArgument, "user_id is required")
	}
	sess, err := c.session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if requesterID != sess.DMUserID {
		return nil, errs.WithMetadata(errs.CodeNotAuthorized, "only the dm may manage members", map[string]string{"session_id": sessionID})
	}
	registry, ok := c.members.(MemberRegistry)
	if !ok {
		return nil, errs.New(errs.CodeInvalidArgument, "membership is not managed by this server")
	}
	return registry, nil
}
