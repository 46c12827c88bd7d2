package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/rpc"
	"strings"
	"time"

	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/models"
	"github.com/wfunc/seatkeeper/room"
)

// Server manages the RPC listener.
type Server struct {
	listener net.Listener
	server   *rpc.Server
}

// NewServer listens on addr and registers service under the name "RoomService".
func NewServer(addr string, service *RoomService) (*Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName("RoomService", service); err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{listener: listener, server: srv}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Start accepts connections until the listener is closed.
func (s *Server) Start() {
	logger.Log.Infof("RPC server listening on %s", s.listener.Addr())
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				logger.Log.Info("RPC server listener closed.")
				return
			}
			logger.Log.Errorf("RPC server accept error: %v", err)
			continue
		}
		go s.server.ServeConn(conn)
	}
}

// Stop closes the RPC listener.
func (s *Server) Stop() {
	if s.listener != nil {
		logger.Log.Info("Stopping RPC server.")
		s.listener.Close()
	}
}

// RoomService exposes coordinator commands to other services. net/rpc
// carries errors as strings, so domain errors are encoded as "code: message"
// and decoded again by DecodeError.
type RoomService struct {
	coord   *room.Coordinator
	timeout time.Duration
}

func NewRoomService(coord *room.Coordinator) *RoomService {
	return &RoomService{coord: coord, timeout: 10 * time.Second}
}

type CreateRoomArgs struct {
	SessionID       string
	DMUserID        string
	PlayerSeatCount int
}

type SeatArgs struct {
	SessionID   string
	SeatID      string
	RequesterID string
}

type AssignCharacterArgs struct {
	SessionID   string
	SeatID      string
	RequesterID string
	Payload     json.RawMessage
}

type SessionArgs struct {
	SessionID   string
	RequesterID string
}

type MemberArgs struct {
	SessionID   string
	UserID      string
	RequesterID string
}

type StateReply struct {
	State models.RoomState
}

type SeatReply struct {
	Seat models.SeatView
}

type SummaryReply struct {
	Summary models.RoomSummary
}

type Empty struct{}

func (s *RoomService) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RoomService) CreateRoom(args *CreateRoomArgs, reply *StateReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	state, err := s.coord.CreateRoom(ctx, args.SessionID, args.DMUserID, args.PlayerSeatCount)
	if err != nil {
		return encodeError(err)
	}
	reply.State = state
	return nil
}

func (s *RoomService) OccupySeat(args *SeatArgs, reply *SeatReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	view, err := s.coord.OccupySeat(ctx, args.SessionID, args.SeatID, args.RequesterID)
	if err != nil {
		return encodeError(err)
	}
	reply.Seat = view
	return nil
}

func (s *RoomService) SwitchSeat(args *SeatArgs, reply *SeatReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	view, err := s.coord.SwitchSeat(ctx, args.SessionID, args.SeatID, args.RequesterID)
	if err != nil {
		return encodeError(err)
	}
	reply.Seat = view
	return nil
}

func (s *RoomService) ReleaseSeat(args *SeatArgs, reply *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return encodeError(s.coord.ReleaseSeat(ctx, args.SessionID, args.SeatID, args.RequesterID))
}

func (s *RoomService) VacateSeat(args *SeatArgs, reply *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return encodeError(s.coord.VacateSeat(ctx, args.SessionID, args.SeatID, args.RequesterID))
}

func (s *RoomService) AssignCharacter(args *AssignCharacterArgs, reply *SeatReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	view, err := s.coord.AssignCharacter(ctx, args.SessionID, args.SeatID, args.Payload, args.RequesterID)
	if err != nil {
		return encodeError(err)
	}
	reply.Seat = view
	return nil
}

func (s *RoomService) GetRoomState(args *SessionArgs, reply *StateReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	state, err := s.coord.GetRoomState(ctx, args.SessionID)
	if err != nil {
		return encodeError(err)
	}
	reply.State = state
	return nil
}

func (s *RoomService) GetRoomSummary(args *SessionArgs, reply *SummaryReply) error {
	ctx, cancel := s.ctx()
	defer cancel()
	summary, err := s.coord.GetRoomSummary(ctx, args.SessionID)
	if err != nil {
		return encodeError(err)
	}
	reply.Summary = summary
	return nil
}

func (s *RoomService) StartCampaign(args *SessionArgs, reply *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return encodeError(s.coord.StartCampaign(ctx, args.SessionID, args.RequesterID))
}

func (s *RoomService) DeleteRoom(args *SessionArgs, reply *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return encodeError(s.coord.DeleteRoom(ctx, args.SessionID, args.RequesterID))
}

func (s *RoomService) InviteMember(args *MemberArgs, reply *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return encodeError(s.coord.InviteMember(ctx, args.SessionID, args.UserID, args.RequesterID))
}

func (s *RoomService) RevokeMember(args *MemberArgs, reply *Empty) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return encodeError(s.coord.RevokeMember(ctx, args.SessionID, args.UserID, args.RequesterID))
}

func encodeError(err error) error {
	if err == nil {
		return nil
	}
	return rpc.ServerError(string(errs.CodeOf(err)) + ": " + errs.UserMessage(err))
}

// DecodeError turns an error returned by a RoomService call back into a
// coded domain error.
func DecodeError(err error) error {
	var se rpc.ServerError
	if !errors.As(err, &se) {
		return err
	}
	code, msg, ok := strings.Cut(string(se), ": ")
	if !ok {
		return errs.Wrap(errs.CodeInternal, string(se), err)
	}
	return errs.New(errs.Code(code), msg)
}
