package session

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/wfunc/seatkeeper/errs"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent   [][]byte
	closed bool
}

func (m *MockConnection) Send(data []byte) error {
	m.sent = append(m.sent, data)
	return nil
}
func (m *MockConnection) Close() error                        { m.closed = true; return nil }
func (m *MockConnection) RemoteAddr() net.Addr                { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration) {}
func (m *MockConnection) ReadMessage() ([]byte, error)        { return nil, nil }

func newTestConnection(id, sessionID, userID string, connType ConnectionType) *Connection {
	return NewConnection(id, sessionID, userID, connType, &MockConnection{})
}

func TestNewTracker(t *testing.T) {
	tracker := NewTracker()
	if tracker == nil {
		t.Fatal("NewTracker should not return nil")
	}
	if tracker.byID == nil || tracker.rooms == nil {
		t.Fatal("NewTracker should initialize its maps")
	}
}

func TestTracker_Register_Get_Remove(t *testing.T) {
	tracker := NewTracker()
	conn := newTestConnection("c1", "room-1", "alice", ConnectionPlayer)

	if err := tracker.Register(conn); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, ok := tracker.Get("c1")
	if !ok || got != conn {
		t.Fatal("Get should return the registered connection")
	}
	if got.Status() != StatusOnline {
		t.Errorf("Expected online status, got %s", got.Status())
	}

	removed, ok := tracker.Remove("c1")
	if !ok || removed != conn {
		t.Fatal("Remove should return the registered connection")
	}
	if removed.Status() != StatusOffline {
		t.Errorf("Removed connection should be offline, got %s", removed.Status())
	}
	if _, ok := tracker.Get("c1"); ok {
		t.Fatal("Get should not find a removed connection")
	}
	if _, ok := tracker.Remove("c1"); ok {
		t.Fatal("Second Remove should report nothing removed")
	}
}

func TestTracker_SingleDMConnection(t *testing.T) {
	tracker := NewTracker()
	first := newTestConnection("dm-1", "room-1", "dm", ConnectionDM)
	second := newTestConnection("dm-2", "room-1", "dm", ConnectionDM)

	if err := tracker.Register(first); err != nil {
		t.Fatalf("First DM register failed: %v", err)
	}
	err := tracker.Register(second)
	if !errors.Is(err, errs.New(errs.CodeAlreadyConnected, "")) {
		t.Fatalf("Expected AlreadyConnected, got %v", err)
	}

	dm, ok := tracker.DM("room-1")
	if !ok || dm != first {
		t.Fatal("First DM connection must stay authoritative")
	}

	// a DM in another session is independent
	if err := tracker.Register(newTestConnection("dm-3", "room-2", "dm", ConnectionDM)); err != nil {
		t.Fatalf("DM for another session should register: %v", err)
	}

	tracker.Remove("dm-1")
	if _, ok := tracker.DM("room-1"); ok {
		t.Fatal("DM slot should be free after removal")
	}
	if err := tracker.Register(second); err != nil {
		t.Fatalf("DM should reconnect after removal: %v", err)
	}
}

func TestTracker_ConnectionsByType(t *testing.T) {
	tracker := NewTracker()
	tracker.Register(newTestConnection("dm", "room-1", "dm", ConnectionDM))
	tracker.Register(newTestConnection("p1", "room-1", "alice", ConnectionPlayer))
	tracker.Register(newTestConnection("p2", "room-1", "bob", ConnectionPlayer))
	tracker.Register(newTestConnection("p3", "room-2", "carol", ConnectionPlayer))

	if n := len(tracker.Connections("room-1")); n != 3 {
		t.Errorf("Expected 3 connections in room-1, got %d", n)
	}
	if n := len(tracker.Connections("room-1", ConnectionPlayer)); n != 2 {
		t.Errorf("Expected 2 player connections, got %d", n)
	}
	if n := len(tracker.Connections("room-1", ConnectionDM)); n != 1 {
		t.Errorf("Expected 1 dm connection, got %d", n)
	}
	if n := len(tracker.Connections("room-3")); n != 0 {
		t.Errorf("Expected no connections in unknown room, got %d", n)
	}

	counts := tracker.Count()
	if counts[ConnectionDM] != 1 || counts[ConnectionPlayer] != 3 {
		t.Errorf("Unexpected counts: %v", counts)
	}
}

func TestTracker_ResolveSeatAndPresence(t *testing.T) {
	tracker := NewTracker()
	a1 := newTestConnection("a1", "room-1", "alice", ConnectionPlayer)
	a2 := newTestConnection("a2", "room-1", "alice", ConnectionPlayer)
	tracker.Register(a1)
	tracker.Register(a2)

	tracker.ResolveSeat("room-1", "alice", "seat-1")
	if a1.SeatID() != "seat-1" || a2.SeatID() != "seat-1" {
		t.Fatal("ResolveSeat should map every connection of the user")
	}

	if !tracker.IsUserOnline("room-1", "alice") {
		t.Fatal("alice should be online")
	}
	tracker.Remove("a1")
	if !tracker.IsUserOnline("room-1", "alice") {
		t.Fatal("alice still has a live connection")
	}
	tracker.Remove("a2")
	if tracker.IsUserOnline("room-1", "alice") {
		t.Fatal("alice should be offline after all connections closed")
	}
}

func TestTracker_Idle(t *testing.T) {
	tracker := NewTracker()
	stale := newTestConnection("stale", "room-1", "alice", ConnectionPlayer)
	stale.lastActive = time.Now().Add(-time.Hour)
	fresh := newTestConnection("fresh", "room-1", "bob", ConnectionPlayer)
	tracker.Register(stale)
	tracker.Register(fresh)

	idle := tracker.Idle(time.Now().Add(-time.Minute))
	if len(idle) != 1 || idle[0] != stale {
		t.Fatalf("Expected only the stale connection, got %d", len(idle))
	}

	stale.Touch()
	if len(tracker.Idle(time.Now().Add(-time.Minute))) != 0 {
		t.Error("Touch should refresh activity")
	}
}

func TestTracker_RemoveSession(t *testing.T) {
	tracker := NewTracker()
	tracker.Register(newTestConnection("dm", "room-1", "dm", ConnectionDM))
	tracker.Register(newTestConnection("p1", "room-1", "alice", ConnectionPlayer))
	tracker.Register(newTestConnection("p2", "room-2", "bob", ConnectionPlayer))

	removed := tracker.RemoveSession("room-1")
	if len(removed) != 2 {
		t.Fatalf("Expected 2 removed connections, got %d", len(removed))
	}
	if _, ok := tracker.DM("room-1"); ok {
		t.Error("DM should be gone with the session")
	}
	if _, ok := tracker.Get("p2"); !ok {
		t.Error("Other sessions must be untouched")
	}
}
