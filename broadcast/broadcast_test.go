package broadcast

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/wfunc/seatkeeper/network"
	"github.com/wfunc/seatkeeper/session"
)

// MockConnection records frames; full simulates a saturated send buffer.
type MockConnection struct {
	sent [][]byte
	full bool
}

func (m *MockConnection) Send(data []byte) error {
	if m.full {
		return network.ErrBackpressure
	}
	m.sent = append(m.sent, data)
	return nil
}
func (m *MockConnection) Close() error                        { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadMessage() ([]byte, error)        { return nil, nil }

type MockObserver struct {
	events    []string
	delivered int
	dropped   int
}

func (m *MockObserver) ObserveBroadcast(eventType string, delivered, dropped int) {
	m.events = append(m.events, eventType)
	m.delivered += delivered
	m.dropped += dropped
}

func setup(t *testing.T) (*session.Tracker, map[string]*MockConnection) {
	t.Helper()
	tracker := session.NewTracker()
	conns := map[string]*MockConnection{
		"dm":    {},
		"alice": {},
		"bob":   {},
		"other": {},
	}
	must := func(err error) {
		if err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}
	must(tracker.Register(session.NewConnection("c-dm", "room-1", "dm", session.ConnectionDM, conns["dm"])))
	must(tracker.Register(session.NewConnection("c-alice", "room-1", "alice", session.ConnectionPlayer, conns["alice"])))
	must(tracker.Register(session.NewConnection("c-bob", "room-1", "bob", session.ConnectionPlayer, conns["bob"])))
	must(tracker.Register(session.NewConnection("c-other", "room-2", "other", session.ConnectionPlayer, conns["other"])))
	return tracker, conns
}

func TestBroadcast_Scopes(t *testing.T) {
	cases := []struct {
		scope Scope
		want  map[string]int
	}{
		{ScopeDM, map[string]int{"dm": 1, "alice": 0, "bob": 0, "other": 0}},
		{ScopePlayers, map[string]int{"dm": 0, "alice": 1, "bob": 1, "other": 0}},
		{ScopeAll, map[string]int{"dm": 1, "alice": 1, "bob": 1, "other": 0}},
	}
	for _, tc := range cases {
		t.Run(string(tc.scope), func(t *testing.T) {
			tracker, conns := setup(t)
			b := NewScopedBroadcaster(tracker, nil)

			res := b.Broadcast("room-1", network.Event{Type: network.EventDMJoined}, tc.scope)

			total := 0
			for user, want := range tc.want {
				if got := len(conns[user].sent); got != want {
					t.Errorf("%s: expected %d frames, got %d", user, want, got)
				}
				total += want
			}
			if res.Delivered != total || res.Dropped != 0 {
				t.Errorf("Unexpected result %+v", res)
			}
		})
	}
}

func TestBroadcast_DropsOnBackpressure(t *testing.T) {
	tracker, conns := setup(t)
	conns["bob"].full = true
	observer := &MockObserver{}
	b := NewScopedBroadcaster(tracker, observer)

	res := b.Broadcast("room-1", network.Event{Type: network.EventDMLeft}, ScopeAll)
	if res.Delivered != 2 || res.Dropped != 1 {
		t.Fatalf("Expected 2 delivered and 1 dropped, got %+v", res)
	}
	if len(observer.events) != 1 || observer.events[0] != network.EventDMLeft {
		t.Errorf("Observer not notified: %v", observer.events)
	}
	if observer.dropped != 1 {
		t.Errorf("Observer should see the drop, got %d", observer.dropped)
	}
}

func TestSendTo(t *testing.T) {
	tracker, conns := setup(t)
	b := NewScopedBroadcaster(tracker, nil)
	conn, _ := tracker.Get("c-alice")

	err := b.SendTo(conn, network.Event{Type: network.EventAck, Payload: network.AckPayload{Request: "occupy_seat"}})
	if err != nil {
		t.Fatalf("SendTo failed: %v", err)
	}
	if len(conns["alice"].sent) != 1 {
		t.Fatalf("Expected one frame for alice, got %d", len(conns["alice"].sent))
	}
	var env network.Envelope
	if err := json.Unmarshal(conns["alice"].sent[0], &env); err != nil || env.Type != network.EventAck {
		t.Errorf("Unexpected frame %s", conns["alice"].sent[0])
	}
	if len(conns["bob"].sent) != 0 {
		t.Error("SendTo must not reach other connections")
	}
}
