package room

import (
	"context"
)

// PresenceChecker reports whether the DM is present for a session.
type PresenceChecker interface {
	DMPresent(ctx context.Context, sessionID string) error
}

// PresenceGate guards every gameplay-advancing operation. Rejections are
// synchronous; nothing is queued for later.
type PresenceGate struct {
	checker PresenceChecker
}

func NewPresenceGate(checker PresenceChecker) *PresenceGate {
	return &PresenceGate{checker: checker}
}

// Check returns DmAbsent while the DM is not connected and seated.
func (g *PresenceGate) Check(ctx context.Context, sessionID string) error {
	return g.checker.DMPresent(ctx, sessionID)
}

// Run calls fn only after a passing check.
func (g *PresenceGate) Run(ctx context.Context, sessionID string, fn func(context.Context) error) error {
	if err := g.Check(ctx, sessionID); err != nil {
		return err
	}
	return fn(ctx)
}
