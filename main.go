package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/wfunc/tapserver/broadcast"
	"github.com/wfunc/tapserver/config"
	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/monitor"
	"github.com/wfunc/tapserver/persistence"
	"github.com/wfunc/tapserver/room"
	"github.com/wfunc/tapserver/server"
	"github.com/wfunc/tapserver/services"
	"github.com/wfunc/tapserver/session"
	"github.com/wfunc/tapserver/timer"
)

func main() {
	// Initialize logger
	logger.Init()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize room store
	store, closer, err := openStore(ctx, cfg.Store)
	if err != nil {
		logger.Log.Fatalf("Failed to open %s store: %v", cfg.Store.Backend, err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logger.Log.Infof("Room store ready (backend=%s)", cfg.Store.Backend)

	mon := monitor.NewMonitor("tapserver")
	instrumented := mon.InstrumentStore(store)

	// Initialize round archive
	var archive *services.ArchiveService
	if cfg.Archive.Enabled {
		pg := cfg.Archive.Postgres
		db, err := persistence.NewGormArchive(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
		if err != nil {
			logger.Log.Fatalf("Failed to connect to archive database: %v", err)
		}
		archive = services.NewArchiveService(db)
		logger.Log.Info("Archive database connection successful.")
	}

	machine := room.NewMachine(instrumented, room.Options{
		MaxPlayers:      cfg.Game.MaxPlayers,
		TTL:             cfg.Store.TTL,
		SettleWindow:    cfg.Game.SettleWindow,
		BuzzerMode:      cfg.Game.BuzzerMode,
		TimerResolution: cfg.Game.TimerResolution,
	})

	sessions := session.NewManager()
	machine.AddSink(broadcast.NewRoomBroadcaster(sessions))
	machine.AddSink(mon)
	if archive != nil {
		machine.AddSink(archive)
	}

	sweeper := timer.NewTimerManager(timer.DefaultResolution)
	defer sweeper.Stop()
	if interval := cfg.Store.SweepInterval; interval > 0 {
		sweeper.AddTimer(interval, interval, func() { sweep(ctx, instrumented, machine, mon) })
	}

	// Initialize Game Server
	gameServer := server.NewGameServer(cfg.Server, server.Deps{
		Machine:  machine,
		Sessions: sessions,
		Monitor:  mon,
		Archive:  archive,
		Store:    instrumented,
	})

	// Start Server
	logger.Log.Infof("Starting game server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(ctx); err != nil {
		logger.Log.Errorf("Game server stopped: %v", err)
	}

	machine.Close()
	if archive != nil {
		if err := archive.Close(); err != nil {
			logger.Log.Warnf("Closing archive: %v", err)
		}
	}
	logger.Log.Info("Game server exited.")
}

func openStore(ctx context.Context, cfg config.StoreConfig) (persistence.KeyValueStore, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		s, err := persistence.NewRedisStore(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case config.BackendPostgres:
		pg := cfg.Postgres
		s, err := persistence.NewPostgresStore(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		return persistence.NewMemoryStore(), nil, nil
	}
}

// sweep purges expired entries from stores without native TTL and keeps the
// active room gauge in line with rooms that expired silently.
func sweep(ctx context.Context, store *monitor.InstrumentedStore, machine *room.Machine, mon *monitor.Monitor) {
	if ctx.Err() != nil {
		return
	}
	if n, err := store.Sweep(ctx); err != nil {
		logger.Log.Warnf("Store sweep failed: %v", err)
	} else if n > 0 {
		logger.Log.Debugf("Swept %d expired keys", n)
	}

	ids, err := machine.Repository().ListRoomIDs(ctx)
	if err != nil {
		logger.Log.Warnf("Listing rooms failed: %v", err)
		return
	}
	mon.SetActiveRooms(len(ids))
}
