package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/config"
	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/models"
	"github.com/wfunc/seatkeeper/monitor"
	"github.com/wfunc/seatkeeper/network"
	"github.com/wfunc/seatkeeper/persistence"
	"github.com/wfunc/seatkeeper/room"
	"github.com/wfunc/seatkeeper/services"
	"github.com/wfunc/seatkeeper/session"
)

func newTestServer(t *testing.T, opts ...func(*config.Config)) (*GameServer, *httptest.Server) {
	t.Helper()
	cfg := &config.Config{
		Server:    config.ServerConfig{HTTPAddress: ":0", Mode: "test"},
		Database:  config.DatabaseConfig{Driver: "memory"},
		Room:      config.RoomConfig{MinCharacters: 1, MaxPlayerSeats: 4, OpeningWorkers: 1, OpeningTimeout: time.Second},
		WebSocket: config.WebSocketConfig{SendBuffer: 32, ReadLimit: 4096},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	mon := monitor.NewMonitor("test")
	tracker := session.NewTracker()
	bcast := broadcast.NewScopedBroadcaster(tracker, mon)
	chars := services.NewMemoryCharacters()
	var members room.Membership
	if len(cfg.Room.Members) > 0 {
		members = services.NewStaticMembership(cfg.Room.Members...)
	}
	coord := room.NewCoordinator(room.Dependencies{
		Store:       persistence.NewMemoryStore(),
		Tracker:     tracker,
		Broadcaster: bcast,
		Membership:  members,
		Characters:  chars,
		Content:     services.NewOpeningService(chars),
		Recorder:    mon,
	}, room.Config{MinCharacters: 1, MaxPlayerSeats: 4, OpeningWorkers: 1, OpeningTimeout: time.Second})
	t.Cleanup(coord.Close)

	s := NewGameServer(cfg, Components{
		Coordinator: coord,
		Tracker:     tracker,
		Broadcaster: bcast,
		Gameplay:    services.LoggingGameplay{},
		Monitor:     mon,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func doJSON(t *testing.T, method, url, user string, body interface{}, out interface{}) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func createRoom(t *testing.T, base string) models.RoomState {
	t.Helper()
	var state models.RoomState
	status := doJSON(t, http.MethodPost, base+"/api/rooms", "dm", map[string]interface{}{"session_id": "s1", "player_seat_count": 3}, &state)
	if status != http.StatusCreated {
		t.Fatalf("create room status %d", status)
	}
	return state
}

func seatAt(state models.RoomState, slot int) string {
	for _, s := range state.Seats {
		if s.SeatType == models.SeatTypePlayer && s.SlotIndex == slot {
			return s.SeatID
		}
	}
	return ""
}

func TestHTTPRoomLifecycle(t *testing.T) {
	_, srv := newTestServer(t)
	state := createRoom(t, srv.URL)
	seat1 := seatAt(state, 1)
	base := srv.URL + "/api/rooms/s1"

	if status := doJSON(t, http.MethodPost, srv.URL+"/api/rooms", "", map[string]int{"player_seat_count": 2}, nil); status != http.StatusUnauthorized {
		t.Errorf("missing user should be 401, got %d", status)
	}
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/rooms", "dm", map[string]interface{}{"session_id": "s1", "player_seat_count": 3}, nil); status != http.StatusConflict {
		t.Errorf("duplicate room should be 409, got %d", status)
	}

	var view models.SeatView
	if status := doJSON(t, http.MethodPost, base+"/seats/"+seat1+"/occupy", "alice", nil, &view); status != http.StatusOK {
		t.Fatalf("occupy status %d", status)
	}
	if status := doJSON(t, http.MethodPost, base+"/seats/"+seat1+"/occupy", "bob", nil, nil); status != http.StatusConflict {
		t.Errorf("conflicting occupy should be 409, got %d", status)
	}
	if status := doJSON(t, http.MethodPost, base+"/seats/"+seat1+"/vacate", "alice", nil, nil); status != http.StatusForbidden {
		t.Errorf("non-dm vacate should be 403, got %d", status)
	}
	if status := doJSON(t, http.MethodPost, base+"/seats/"+seat1+"/bogus", "alice", nil, nil); status != http.StatusNotFound {
		t.Errorf("unknown action should be 404, got %d", status)
	}

	body := map[string]json.RawMessage{"character_payload": json.RawMessage(`{"name":"Gaius"}`)}
	if status := doJSON(t, http.MethodPost, base+"/seats/"+seat1+"/character", "alice", body, &view); status != http.StatusOK {
		t.Fatalf("assign status %d", status)
	}
	if status := doJSON(t, http.MethodPost, base+"/start", "dm", nil, nil); status != http.StatusPreconditionFailed {
		t.Errorf("start without dm should be 412, got %d", status)
	}

	var summary models.RoomSummary
	if status := doJSON(t, http.MethodGet, base+"/summary", "alice", nil, &summary); status != http.StatusOK {
		t.Fatalf("summary status %d", status)
	}
	if summary.OccupiedSeats != 1 || summary.BoundCharacters != 1 {
		t.Errorf("Unexpected summary %+v", summary)
	}

	if status := doJSON(t, http.MethodDelete, base, "dm", nil, nil); status != http.StatusNoContent {
		t.Fatalf("delete status %d", status)
	}
	if status := doJSON(t, http.MethodGet, base+"/state", "dm", nil, nil); status != http.StatusNotFound {
		t.Errorf("deleted room should be 404, got %d", status)
	}
}

func TestHTTPMembers(t *testing.T) {
	_, srv := newTestServer(t, func(cfg *config.Config) {
		cfg.Room.Members = []string{"carol"}
	})
	state := createRoom(t, srv.URL)
	base := srv.URL + "/api/rooms/s1"
	occupy := base + "/seats/" + seatAt(state, 1) + "/occupy"

	if status := doJSON(t, http.MethodPost, occupy, "alice", nil, nil); status != http.StatusForbidden {
		t.Fatalf("non-member occupy should be 403, got %d", status)
	}
	if status := doJSON(t, http.MethodPut, base+"/members/alice", "carol", nil, nil); status != http.StatusForbidden {
		t.Errorf("non-dm invite should be 403, got %d", status)
	}
	if status := doJSON(t, http.MethodPut, base+"/members/alice", "dm", nil, nil); status != http.StatusNoContent {
		t.Fatalf("invite status %d", status)
	}
	if status := doJSON(t, http.MethodPost, occupy, "alice", nil, nil); status != http.StatusOK {
		t.Fatalf("invited member occupy status %d", status)
	}
	if status := doJSON(t, http.MethodDelete, base+"/members/alice", "dm", nil, nil); status != http.StatusNoContent {
		t.Fatalf("revoke status %d", status)
	}
	if status := doJSON(t, http.MethodPost, base+"/seats/"+seatAt(state, 2)+"/switch", "alice", nil, nil); status != http.StatusForbidden {
		t.Errorf("revoked member switch should be 403, got %d", status)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz failed: %v %v", resp, err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics failed: %v %v", resp, err)
	}
	resp.Body.Close()
}

// wsClient reads frames in the background so tests can wait for events.
type wsClient struct {
	conn   *websocket.Conn
	frames chan network.Envelope
}

func dial(t *testing.T, srv *httptest.Server, query string) (*wsClient, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, resp, err
	}
	c := &wsClient{conn: conn, frames: make(chan network.Envelope, 64)}
	go func() {
		defer close(c.frames)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env network.Envelope
			if json.Unmarshal(data, &env) == nil {
				c.frames <- env
			}
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return c, resp, nil
}

func (c *wsClient) send(t *testing.T, msgType string, payload interface{}) {
	t.Helper()
	frame := map[string]interface{}{"type": msgType}
	if payload != nil {
		frame["payload"] = payload
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// waitFor returns the first frame of eventType, skipping others.
func (c *wsClient) waitFor(t *testing.T, eventType string) network.Envelope {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case env, ok := <-c.frames:
			if !ok {
				t.Fatalf("connection closed while waiting for %s", eventType)
			}
			if env.Type == eventType {
				return env
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

func TestWebSocketSeatFlow(t *testing.T) {
	_, srv := newTestServer(t)
	state := createRoom(t, srv.URL)
	seat1 := seatAt(state, 1)

	player, _, err := dial(t, srv, "session_id=s1&user_id=alice&role=player")
	if err != nil {
		t.Fatalf("player dial failed: %v", err)
	}
	player.waitFor(t, network.EventRoomState)

	player.send(t, network.MsgTypeGameAction, map[string]string{"action": "roll"})
	var errPayload network.ErrorPayload
	json.Unmarshal(player.waitFor(t, network.EventError).Payload, &errPayload)
	if errPayload.Code != "dm_absent" || errPayload.Message != "waiting for DM" {
		t.Fatalf("Expected dm_absent, got %+v", errPayload)
	}

	dm, _, err := dial(t, srv, "session_id=s1&user_id=dm&role=dm")
	if err != nil {
		t.Fatalf("dm dial failed: %v", err)
	}
	dm.waitFor(t, network.EventRoomState)
	player.waitFor(t, network.EventDMJoined)

	player.send(t, network.MsgTypeOccupySeat, map[string]string{"seat_id": seat1})
	player.waitFor(t, network.EventAck)
	var seat models.SeatView
	json.Unmarshal(dm.waitFor(t, network.EventSeatUpdated).Payload, &seat)
	for seat.SeatID != seat1 {
		json.Unmarshal(dm.waitFor(t, network.EventSeatUpdated).Payload, &seat)
	}
	if seat.OwnerUserID == nil || *seat.OwnerUserID != "alice" || !seat.Online {
		t.Fatalf("Unexpected seat update %+v", seat)
	}

	player.send(t, network.MsgTypeGameAction, map[string]string{"action": "roll"})
	player.waitFor(t, network.EventAck)

	player.send(t, "teleport", nil)
	json.Unmarshal(player.waitFor(t, network.EventError).Payload, &errPayload)
	if errPayload.Code != "invalid_message" {
		t.Errorf("Expected invalid_message, got %+v", errPayload)
	}
}

func TestWebSocketSecondDMRejected(t *testing.T) {
	_, srv := newTestServer(t)
	createRoom(t, srv.URL)

	first, _, err := dial(t, srv, "session_id=s1&user_id=dm&role=dm")
	if err != nil {
		t.Fatalf("dm dial failed: %v", err)
	}
	first.waitFor(t, network.EventRoomState)

	second, _, err := dial(t, srv, "session_id=s1&user_id=dm&role=dm")
	if err != nil {
		t.Fatalf("second dial failed: %v", err)
	}
	var errPayload network.ErrorPayload
	json.Unmarshal(second.waitFor(t, network.EventError).Payload, &errPayload)
	if errPayload.Code != "already_connected" {
		t.Fatalf("Expected already_connected, got %+v", errPayload)
	}

	first.send(t, network.MsgTypeGetRoomState, nil)
	var st models.RoomState
	json.Unmarshal(first.waitFor(t, network.EventRoomState).Payload, &st)
	if !st.DMOnline {
		t.Error("first DM connection should still be live")
	}
}

func TestWebSocketRejectsBadQuery(t *testing.T) {
	_, srv := newTestServer(t)
	_, resp, err := dial(t, srv, "session_id=s1")
	if err == nil {
		t.Fatal("dial without user_id should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %v", resp)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[string]int{
		"not_found":         http.StatusNotFound,
		"not_authorized":    http.StatusForbidden,
		"seat_conflict":     http.StatusConflict,
		"already_connected": http.StatusConflict,
		"dm_absent":         http.StatusPreconditionFailed,
		"invalid_argument":  http.StatusBadRequest,
		"internal":          http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusFor(errs.Code(code)); got != want {
			t.Errorf("statusFor(%s) = %d, want %d", code, got, want)
		}
	}
}

func TestIdleSweepSparesSocketsAnsweringPings(t *testing.T) {
	s, srv := newTestServer(t, func(cfg *config.Config) {
		cfg.WebSocket.PingPeriod = 25 * time.Millisecond
		cfg.WebSocket.IdleTimeout = 150 * time.Millisecond
	})
	createRoom(t, srv.URL)

	dm, _, err := dial(t, srv, "session_id=s1&user_id=dm&role=dm")
	if err != nil {
		t.Fatalf("dm dial failed: %v", err)
	}
	dm.waitFor(t, network.EventRoomState)

	// The client only answers pings; it sends no application frames.
	time.Sleep(300 * time.Millisecond)
	s.sweep()

	if err := s.coord.DMPresent(context.Background(), "s1"); err != nil {
		t.Fatalf("DM answering pings was reaped: %v", err)
	}
	if s.tracker.Count()[session.ConnectionDM] != 1 {
		t.Errorf("Expected the DM connection to survive the sweep")
	}
}

func TestIdleSweepReapsSilentConnections(t *testing.T) {
	s, srv := newTestServer(t, func(cfg *config.Config) {
		cfg.WebSocket.IdleTimeout = 50 * time.Millisecond
	})
	createRoom(t, srv.URL)

	dm, _, err := dial(t, srv, "session_id=s1&user_id=dm&role=dm")
	if err != nil {
		t.Fatalf("dm dial failed: %v", err)
	}
	dm.waitFor(t, network.EventRoomState)

	time.Sleep(100 * time.Millisecond)
	s.sweep()

	if err := s.coord.DMPresent(context.Background(), "s1"); errs.CodeOf(err) != errs.CodeDmAbsent {
		t.Fatalf("silent DM should be reaped, got %v", err)
	}
}
