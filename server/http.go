package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wfunc/seatkeeper/errs"
	"github.com/wfunc/seatkeeper/logger"
)

// UserHeader carries the caller's identity on API requests.
const UserHeader = "X-User-ID"

func (s *GameServer) setupRouter() *gin.Engine {
	switch s.cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(s.cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/healthz", s.healthz)
	if s.monitor != nil {
		r.GET("/metrics", gin.WrapH(s.monitor.Handler()))
	}
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api", requireUser())
	rooms := api.Group("/rooms")
	{
		rooms.GET("", s.listRooms)
		rooms.POST("", s.createRoom)
		rooms.DELETE("/:id", s.deleteRoom)
		rooms.GET("/:id/summary", s.roomSummary)
		rooms.GET("/:id/state", s.roomState)
		rooms.POST("/:id/start", s.startCampaign)
		rooms.POST("/:id/seats/:seat/character", s.assignCharacter)
		rooms.POST("/:id/seats/:seat/:action", s.seatAction)
		rooms.PUT("/:id/members/:user", s.inviteMember)
		rooms.DELETE("/:id/members/:user", s.revokeMember)
	}
	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log.Debugw("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(UserHeader))
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": errs.CodeNotAuthorized, "message": "missing " + UserHeader})
			return
		}
		c.Set("user_id", user)
		c.Next()
	}
}

// statusFor maps domain error codes to HTTP status codes.
func statusFor(code errs.Code) int {
	switch code {
	case errs.CodeNotFound:
		return http.StatusNotFound
	case errs.CodeNotAuthorized:
		return http.StatusForbidden
	case errs.CodeSeatConflict, errs.CodeAlreadyAssigned, errs.CodeAlreadyHasSeat,
		errs.CodeAlreadyConnected, errs.CodeAlreadyExists, errs.CodeCampaignActive:
		return http.StatusConflict
	case errs.CodeDmAbsent, errs.CodeNotReady:
		return http.StatusPreconditionFailed
	case errs.CodeInvalidArgument, errs.CodeInvalidMessage:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	if code == errs.CodeInternal {
		logger.Log.Errorw("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(statusFor(code), gin.H{"code": code, "message": errs.UserMessage(err)})
}

func (s *GameServer) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.tracker.Count()})
}

type createRoomRequest struct {
	SessionID       string `json:"session_id"`
	PlayerSeatCount int    `json:"player_seat_count" binding:"required"`
}

func (s *GameServer) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Wrap(errs.CodeInvalidArgument, "invalid body", err))
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}
	state, err := s.coord.CreateRoom(c.Request.Context(), req.SessionID, c.GetString("user_id"), req.PlayerSeatCount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, state)
}

func (s *GameServer) listRooms(c *gin.Context) {
	rooms, err := s.coord.ListRooms(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func (s *GameServer) deleteRoom(c *gin.Context) {
	if err := s.coord.DeleteRoom(c.Request.Context(), c.Param("id"), c.GetString("user_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *GameServer) roomSummary(c *gin.Context) {
	summary, err := s.coord.GetRoomSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *GameServer) roomState(c *gin.Context) {
	state, err := s.coord.GetRoomState(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (s *GameServer) startCampaign(c *gin.Context) {
	if err := s.coord.StartCampaign(c.Request.Context(), c.Param("id"), c.GetString("user_id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"campaign_status": "active"})
}

func (s *GameServer) seatAction(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID, seatID, user := c.Param("id"), c.Param("seat"), c.GetString("user_id")

	switch c.Param("action") {
	case "occupy":
		view, err := s.coord.OccupySeat(ctx, sessionID, seatID, user)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	case "switch":
		view, err := s.coord.SwitchSeat(ctx, sessionID, seatID, user)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	case "release":
		if err := s.coord.ReleaseSeat(ctx, sessionID, seatID, user); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	case "vacate":
		if err := s.coord.VacateSeat(ctx, sessionID, seatID, user); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	default:
		c.JSON(http.StatusNotFound, gin.H{"code": errs.CodeNotFound, "message": "unknown seat action"})
	}
}

func (s *GameServer) inviteMember(c *gin.Context) {
	if err := s.coord.InviteMember(c.Request.Context(), c.Param("id"), c.Param("user"), c.GetString("user_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *GameServer) revokeMember(c *gin.Context) {
	if err := s.coord.RevokeMember(c.Request.Context(), c.Param("id"), c.Param("user"), c.GetString("user_id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type assignCharacterRequest struct {
	CharacterPayload json.RawMessage `json:"character_payload" binding:"required"`
}

func (s *GameServer) assignCharacter(c *gin.Context) {
	var req assignCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errs.Wrap(errs.CodeInvalidArgument, "invalid body", err))
		return
	}
	view, err := s.coord.AssignCharacter(c.Request.Context(), c.Param("id"), c.Param("seat"), req.CharacterPayload, c.GetString("user_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}
