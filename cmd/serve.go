package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wfunc/seatkeeper/broadcast"
	"github.com/wfunc/seatkeeper/config"
	"github.com/wfunc/seatkeeper/logger"
	"github.com/wfunc/seatkeeper/monitor"
	"github.com/wfunc/seatkeeper/persistence"
	"github.com/wfunc/seatkeeper/room"
	"github.com/wfunc/seatkeeper/server"
	"github.com/wfunc/seatkeeper/services"
	"github.com/wfunc/seatkeeper/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator (HTTP, WebSocket, RPC, gRPC health)",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := persistence.Open(cfg.Database.Driver, postgresConfig(cfg))
	if err != nil {
		logger.Log.Errorw("failed to open store", "driver", cfg.Database.Driver, "error", err)
		return err
	}
	defer store.Close()
	logger.Log.Infow("store ready", "driver", cfg.Database.Driver)

	mon := monitor.NewMonitor("seatkeeper")
	tracker := session.NewTracker()
	bcast := broadcast.NewScopedBroadcaster(tracker, mon)
	members, characters, lookup := collaborators(cfg, store)

	coord := room.NewCoordinator(room.Dependencies{
		Store:       store,
		Tracker:     tracker,
		Broadcaster: bcast,
		Membership:  members,
		Characters:  characters,
		Content:     services.NewOpeningService(lookup),
		Recorder:    mon,
	}, room.Config{
		MinCharacters:  cfg.Room.MinCharacters,
		MaxPlayerSeats: cfg.Room.MaxPlayerSeats,
		OpeningWorkers: cfg.Room.OpeningWorkers,
		OpeningTimeout: cfg.Room.OpeningTimeout,
	})
	defer coord.Close()

	if sessions, err := store.ListSessions(context.Background()); err == nil {
		mon.SetActiveRooms(len(sessions))
	}

	gameServer := server.NewGameServer(cfg, server.Components{
		Coordinator: coord,
		Tracker:     tracker,
		Broadcaster: bcast,
		Gameplay:    services.LoggingGameplay{},
		Monitor:     mon,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Infof("Starting seatkeeper on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Run(ctx); err != nil {
		logger.Log.Errorw("server stopped with error", "error", err)
		return err
	}
	logger.Log.Info("seatkeeper stopped")
	return nil
}

// collaborators picks membership and character backends for the store in use.
func collaborators(cfg *config.Config, store persistence.SeatStore) (room.Membership, room.CharacterFactory, services.CharacterLookup) {
	var members room.Membership = services.OpenMembership{}
	if !cfg.Room.OpenMembership {
		members = services.NewStaticMembership(cfg.Room.Members...)
	}

	if g, ok := store.(*persistence.GormPostgreSQL); ok {
		if !cfg.Room.OpenMembership {
			members = services.NewMemberDirectory(g.DB())
		}
		chars := services.NewCharacterService(g.DB())
		return members, chars, chars
	}
	chars := services.NewMemoryCharacters()
	return members, chars, chars
}

func postgresConfig(cfg *config.Config) persistence.PostgresConfig {
	pg := cfg.Database.Postgres
	return persistence.PostgresConfig{
		Host:     pg.Host,
		Port:     pg.Port,
		User:     pg.User,
		Password: pg.Password,
		DBName:   pg.DBName,
		SSLMode:  pg.SSLMode,
	}
}
