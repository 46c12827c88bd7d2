package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/network"
	"github.com/wfunc/seatkeeper/session"
)

// handleWebSocket serves GET /ws?session_id=..&user_id=..&role=dm|player.
func (s *GameServer) handleWebSocket(c *gin.Context) {
	sessionID := c.Query("session_id")
	userID := c.Query("user_id")
	role := c.DefaultQuery("role", string(session.ConnectionPlayer))
	if sessionID == "" || userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeInvalidArgument, "message": "session_id and user_id are required"})
		return
	}
	if role != string(session.ConnectionDM) && role != string(session.ConnectionPlayer) {
		c.JSON(http.StatusBadRequest, gin.H{"code": errs.CodeInvalidArgument, "message": "role must be dm or player"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Log.Infof("Failed to upgrade connection: %v", err)
		return
	}
	s.handleConnection(conn, sessionID, userID, session.ConnectionType(role))
}

func (s *GameServer) handleConnection(conn *websocket.Conn, sessionID, userID string, role session.ConnectionType) {
	ws := network.NewWSConnection(conn, s.cfg.WebSocket.SendBuffer)
	ws.SetReadLimit(s.cfg.WebSocket.ReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		member *session.Connection
		err    error
	)
	if role == session.ConnectionDM {
		member, err = s.coord.ConnectDM(ctx, sessionID, ws, userID)
	} else {
		member, err = s.coord.ConnectPlayer(ctx, sessionID, ws, userID)
	}
	if err != nil {
		rejectConnection(conn, err)
		ws.Close()
		return
	}

	ws.OnActivity(member.Touch)
	if s.cfg.WebSocket.PingPeriod > 0 {
		ws.SetHeartbeat(s.cfg.WebSocket.PingPeriod)
	}
	go ws.WritePump(ctx)
	go func() {
		select {
		case <-s.shutdownChan:
			ws.Close()
		case <-ctx.Done():
		}
	}()

	logger.Log.Infow("websocket opened", "session_id", sessionID, "conn_id", member.ID, "user_id", userID, "role", role, "remote", ws.RemoteAddr().String())
	defer s.coord.Disconnect(context.Background(), member.ID)

	s.reply(member, "", s.stateEvent(ctx, sessionID))

	for {
		data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Log.Debugw("websocket read", "conn_id", member.ID, "error", err)
			}
			return
		}
		msg, err := network.ParseClientMessage(data)
		if err != nil {
			s.replyError(member, "", errs.Wrap(errs.CodeInvalidMessage, "invalid message", err))
			continue
		}
		if s.monitor != nil {
			s.monitor.IncMessagesReceived(msg.MessageType())
		}
		s.handleMessage(ctx, member, msg)
	}
}

// rejectConnection writes a single error frame before the pumps start.
func rejectConnection(conn *websocket.Conn, err error) {
	frame, encErr := errorEvent("connect", err).Encode()
	if encErr != nil {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(errs.CodeOf(err))))
}

func (s *GameServer) handleMessage(ctx context.Context, member *session.Connection, msg network.ClientMessage) {
	sessionID, user := member.SessionID, member.UserID
	request := msg.MessageType()

	var err error
	switch m := msg.(type) {
	case network.Heartbeat:
	case network.OccupySeat:
		_, err = s.coord.OccupySeat(ctx, sessionID, m.SeatID, user)
	case network.SwitchSeat:
		_, err = s.coord.SwitchSeat(ctx, sessionID, m.SeatID, user)
	case network.ReleaseSeat:
		err = s.coord.ReleaseSeat(ctx, sessionID, m.SeatID, user)
	case network.VacateSeat:
		err = s.coord.VacateSeat(ctx, sessionID, m.SeatID, user)
	case network.AssignCharacter:
		_, err = s.coord.AssignCharacter(ctx, sessionID, m.SeatID, m.CharacterPayload, user)
	case network.StartCampaign:
		err = s.coord.StartCampaign(ctx, sessionID, user)
	case network.GetRoomState:
		s.reply(member, request, s.stateEvent(ctx, sessionID))
		return
	case network.GameAction:
		err = s.gate.Run(ctx, sessionID, func(ctx context.Context) error {
			if s.gameplay == nil {
				return nil
			}
			return s.gameplay.HandleAction(ctx, sessionID, user, m.Action)
		})
	default:
		err = errs.New(errs.CodeInvalidMessage, "unsupported message")
	}

	if err != nil {
		s.replyError(member, request, err)
		return
	}
	s.reply(member, request, network.Event{Type: network.EventAck, Payload: network.AckPayload{Request: request}})
}

func (s *GameServer) stateEvent(ctx context.Context, sessionID string) network.Event {
	state, err := s.coord.GetRoomState(ctx, sessionID)
	if err != nil {
		return errorEvent(network.MsgTypeGetRoomState, err)
	}
	return network.Event{Type: network.EventRoomState, Payload: state}
}

func (s *GameServer) reply(member *session.Connection, request string, event network.Event) {
	if err := s.broadcaster.SendTo(member, event); err != nil {
		logger.Log.Debugw("reply dropped", "conn_id", member.ID, "request", request, "error", err)
	}
}

func (s *GameServer) replyError(member *session.Connection, request string, err error) {
	if errs.CodeOf(err) == errs.CodeInternal {
		logger.Log.Errorw("request failed", "session_id", member.SessionID, "conn_id", member.ID, "request", request, "error", err)
	}
	s.reply(member, request, errorEvent(request, err))
}

func errorEvent(request string, err error) network.Event {
	return network.Event{
		Type: network.EventError,
		Payload: network.ErrorPayload{
			Code:    string(errs.CodeOf(err)),
			Message: errs.UserMessage(err),
			Request: request,
		},
	}
}
