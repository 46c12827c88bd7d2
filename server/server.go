package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/config"
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/monitor"
	"github.com/wfunc/seatkeeper/room"
	"github.com/wfunc/seatkeeper/rpc"
	"github.com/wfunc/seatkeeper/session"
	"github.com/wfunc/seatkeeper/timer"
)

// Components are the already-wired domain pieces the server exposes.
type Components struct {
	Coordinator *room.Coordinator
	Tracker     *session.Tracker
	Broadcaster broadcast.Broadcaster
	Gameplay    room.GameplayHandler
	Monitor     *monitor.Monitor
}

type GameServer struct {
	cfg          *config.Config
	coord        *room.Coordinator
	tracker      *session.Tracker
	broadcaster  broadcast.Broadcaster
	gate         *room.PresenceGate
	gameplay     room.GameplayHandler
	monitor      *monitor.Monitor
	health       *monitor.HealthServer
	timers       *timer.TimerManager
	upgrader     websocket.Upgrader
	router       *gin.Engine
	shutdownChan chan struct{}
}

func NewGameServer(cfg *config.Config, comps Components) *GameServer {
	s := &GameServer{
		cfg:          cfg,
		coord:        comps.Coordinator,
		tracker:      comps.Tracker,
		broadcaster:  comps.Broadcaster,
		gate:         room.NewPresenceGate(comps.Coordinator),
		gameplay:     comps.Gameplay,
		monitor:      comps.Monitor,
		health:       monitor.NewHealthServer(),
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler serving /api, /ws, /healthz and /metrics.
func (s *GameServer) Handler() http.Handler {
	return s.router
}

// Run serves HTTP, net/rpc and gRPC health until ctx is cancelled, then
// shuts everything down and closes live websockets.
func (s *GameServer) Run(ctx context.Context) error {
	rpcServer, err := rpc.NewServer(s.cfg.Server.RPCAddress, rpc.NewRoomService(s.coord))
	if err != nil {
		return err
	}
	grpcListener, err := net.Listen("tcp", s.cfg.Server.GRPCAddress)
	if err != nil {
		rpcServer.Stop()
		return err
	}
	httpServer := &http.Server{
		Addr:              s.cfg.Server.HTTPAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.timers = timer.NewTimerManager()
	if sweep := s.cfg.WebSocket.SweepInterval; sweep > 0 {
		s.timers.AddTimer(sweep, sweep, s.sweep)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Infof("Game server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		rpcServer.Start()
		return nil
	})
	g.Go(func() error {
		return s.health.Serve(gctx, grpcListener)
	})
	g.Go(func() error {
		<-gctx.Done()
		s.health.SetServing(false)
		close(s.shutdownChan)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		rpcServer.Stop()
		s.timers.Stop()
		err := httpServer.Shutdown(shutdownCtx)
		s.coord.Close()
		return err
	})
	return g.Wait()
}

// sweep disconnects idle sockets and refreshes connection gauges.
func (s *GameServer) sweep() {
	if idle := s.cfg.WebSocket.IdleTimeout; idle > 0 {
		cutoff := time.Now().Add(-idle)
		for _, c := range s.tracker.Idle(cutoff) {
			logger.Log.Infow("idle connection reaped", "session_id", c.SessionID, "conn_id", c.ID, "user_id", c.UserID)
			s.coord.Disconnect(context.Background(), c.ID)
		}
	}
	if s.monitor != nil {
		s.monitor.SetConnections(s.tracker.Count())
	}
}
