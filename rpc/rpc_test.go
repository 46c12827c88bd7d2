package rpc

import (
	"encoding/json"
	netrpc "net/rpc"
	"testing"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/persistence"
	"github.com/wfunc/seatkeeper/room"
	"github.com/wfunc/seatkeeper/services"
	"github.com/wfunc/seatkeeper/session"
)

func newTestServer(t *testing.T) *netrpc.Client {
	t.Helper()
	tracker := session.NewTracker()
	coord := room.NewCoordinator(room.Dependencies{
		Store:       persistence.NewMemoryStore(),
		Tracker:     tracker,
		Broadcaster: broadcast.NewScopedBroadcaster(tracker, nil),
		Characters:  services.NewMemoryCharacters(),
	}, room.DefaultConfig())
	t.Cleanup(coord.Close)

	srv, err := NewServer("127.0.0.1:0", NewRoomService(coord))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	go srv.Start()
	t.Cleanup(srv.Stop)

	client, err := netrpc.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRoomServiceSeatFlow(t *testing.T) {
	client := newTestServer(t)

	var created StateReply
	if err := client.Call("RoomService.CreateRoom", &CreateRoomArgs{SessionID: "s1", DMUserID: "dm", PlayerSeatCount: 2}, &created); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	seatID := ""
	for _, s := range created.State.Seats {
		if s.SlotIndex == 1 {
			seatID = s.SeatID
		}
	}

	var seat SeatReply
	if err := client.Call("RoomService.OccupySeat", &SeatArgs{SessionID: "s1", SeatID: seatID, RequesterID: "alice"}, &seat); err != nil {
		t.Fatalf("OccupySeat failed: %v", err)
	}
	if seat.Seat.OwnerUserID == nil || *seat.Seat.OwnerUserID != "alice" {
		t.Fatalf("Unexpected seat %+v", seat.Seat)
	}

	err := client.Call("RoomService.OccupySeat", &SeatArgs{SessionID: "s1", SeatID: seatID, RequesterID: "bob"}, &seat)
	if code := errs.CodeOf(DecodeError(err)); code != errs.CodeSeatConflict {
		t.Fatalf("Expected seat_conflict, got %v", err)
	}

	var assigned SeatReply
	args := &AssignCharacterArgs{SessionID: "s1", SeatID: seatID, RequesterID: "alice", Payload: json.RawMessage(`{"name":"Gaius"}`)}
	if err := client.Call("RoomService.AssignCharacter", args, &assigned); err != nil {
		t.Fatalf("AssignCharacter failed: %v", err)
	}
	if assigned.Seat.CharacterID == nil {
		t.Fatal("character should be bound")
	}

	var summary SummaryReply
	if err := client.Call("RoomService.GetRoomSummary", &SessionArgs{SessionID: "s1"}, &summary); err != nil {
		t.Fatalf("GetRoomSummary failed: %v", err)
	}
	if summary.Summary.BoundCharacters != 1 || summary.Summary.OccupiedSeats != 1 {
		t.Errorf("Unexpected summary %+v", summary.Summary)
	}

	err = client.Call("RoomService.StartCampaign", &SessionArgs{SessionID: "s1", RequesterID: "dm"}, &Empty{})
	if code := errs.CodeOf(DecodeError(err)); code != errs.CodeDmAbsent {
		t.Errorf("Expected dm_absent, got %v", err)
	}
}

func TestRoomServiceMembers(t *testing.T) {
	tracker := session.NewTracker()
	coord := room.NewCoordinator(room.Dependencies{
		Store:       persistence.NewMemoryStore(),
		Tracker:     tracker,
		Broadcaster: broadcast.NewScopedBroadcaster(tracker, nil),
		Membership:  services.NewStaticMembership(),
	}, room.DefaultConfig())
	t.Cleanup(coord.Close)
	service := NewRoomService(coord)

	if err := service.CreateRoom(&CreateRoomArgs{SessionID: "s1", DMUserID: "dm", PlayerSeatCount: 1}, &StateReply{}); err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	err := service.InviteMember(&MemberArgs{SessionID: "s1", UserID: "alice", RequesterID: "bob"}, &Empty{})
	if code := errs.CodeOf(DecodeError(err)); code != errs.CodeNotAuthorized {
		t.Fatalf("Expected not_authorized, got %v", err)
	}
	if err := service.InviteMember(&MemberArgs{SessionID: "s1", UserID: "alice", RequesterID: "dm"}, &Empty{}); err != nil {
		t.Fatalf("InviteMember failed: %v", err)
	}
	if err := service.RevokeMember(&MemberArgs{SessionID: "s1", UserID: "alice", RequesterID: "dm"}, &Empty{}); err != nil {
		t.Fatalf("RevokeMember failed: %v", err)
	}
}

func TestDecodeError(t *testing.T) {
	err := DecodeError(netrpc.ServerError("not_found: room or seat not found"))
	if errs.CodeOf(err) != errs.CodeNotFound {
		t.Errorf("Expected not_found, got %v", err)
	}
	if DecodeError(nil) != nil {
		t.Error("nil should stay nil")
	}
}
