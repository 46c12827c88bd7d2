// broadcast/broadcast.go
package broadcast

import (
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/network"
	"github.com/wfunc/seatkeeper/session"
)

// Scope selects which connections of a session receive an event.
type Scope string

const (
	ScopeDM      Scope = "dm"
	ScopePlayers Scope = "players"
	ScopeAll     Scope = "all"
)

// Result reports fan-out delivery for one event.
type Result struct {
	Delivered int
	Dropped   int
}

// DeliveryObserver is notified after every fan-out (metrics hook).
type DeliveryObserver interface {
	ObserveBroadcast(eventType string, delivered, dropped int)
}

// 广播接口
type Broadcaster interface {
	Broadcast(sessionID string, event network.Event, scope Scope) Result
	SendTo(conn *session.Connection, event network.Event) error
}

// ScopedBroadcaster delivers to the live connections the tracker knows
// about. Delivery is best effort: a connection whose buffer is full misses
// the event and is expected to re-fetch room state.
type ScopedBroadcaster struct {
	tracker  *session.Tracker
	observer DeliveryObserver
}

func NewScopedBroadcaster(tracker *session.Tracker, observer DeliveryObserver) *ScopedBroadcaster {
	return &ScopedBroadcaster{
		tracker:  tracker,
		observer: observer,
	}
}

func (b *ScopedBroadcaster) Broadcast(sessionID string, event network.Event, scope Scope) Result {
	data, err := event.Encode()
	if err != nil {
		logger.Log.Errorw("encode broadcast", "session_id", sessionID, "event", event.Type, "error", err)
		return Result{}
	}

	var targets []*session.Connection
	switch scope {
	case ScopeDM:
		targets = b.tracker.Connections(sessionID, session.ConnectionDM)
	case ScopePlayers:
		targets = b.tracker.Connections(sessionID, session.ConnectionPlayer)
	default:
		targets = b.tracker.Connections(sessionID)
	}

	var res Result
	for _, c := range targets {
		if err := c.Send(data); err != nil {
			res.Dropped++
			logger.Log.Debugw("broadcast dropped", "session_id", sessionID, "conn_id", c.ID, "event", event.Type, "error", err)
			continue
		}
		res.Delivered++
	}
	if b.observer != nil {
		b.observer.ObserveBroadcast(event.Type, res.Delivered, res.Dropped)
	}
	return res
}

// SendTo delivers a direct reply to a single connection.
func (b *ScopedBroadcaster) SendTo(conn *session.Connection, event network.Event) error {
	data, err := event.Encode()
	if err != nil {
		return err
	}
	return conn.Send(data)
}
