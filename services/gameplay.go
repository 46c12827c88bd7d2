// services/gameplay.go
package services

import (
	"context"
	"encoding/json"

	"github.com/wfunc/seatkeeper/logger"
)

// LoggingGameplay accepts every action and records it. Gameplay content is
// owned by an external engine; this is the in-process stand-in.
type LoggingGameplay struct{}

func (LoggingGameplay) HandleAction(ctx context.Context, sessionID, userID string, action json.RawMessage) error {
	logger.Log.Infow("game action", "session_id", sessionID, "user_id", userID, "action", string(action))
	return nil
}
