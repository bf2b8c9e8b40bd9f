package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wfunc/tapserver/config"
	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/monitor"
	"github.com/wfunc/tapserver/persistence"
	"github.com/wfunc/tapserver/room"
	tapserver_rpc "github.com/wfunc/tapserver/rpc"
	"github.com/wfunc/tapserver/services"
	"github.com/wfunc/tapserver/session"
)

const (
	requestTimeout  = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

// Deps are the components the server routes requests to.
type Deps struct {
	Machine  *room.Machine
	Sessions *session.Manager
	Monitor  *monitor.Monitor
	Archive  *services.ArchiveService
	Store    persistence.Pinger
}

type GameServer struct {
	cfg          config.ServerConfig
	upgrader     websocket.Upgrader
	machine      *room.Machine
	sessions     *session.Manager
	monitor      *monitor.Monitor
	archive      *services.ArchiveService
	store        persistence.Pinger
	httpServer   *http.Server
	shutdownOnce sync.Once
	shutdownChan chan struct{}
}

func NewGameServer(cfg config.ServerConfig, deps Deps) *GameServer {
	s := &GameServer{
		cfg:          cfg,
		machine:      deps.Machine,
		sessions:     deps.Sessions,
		monitor:      deps.Monitor,
		archive:      deps.Archive,
		store:        deps.Store,
		shutdownChan: make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(cfg.AllowedOrigins),
		},
	}
	if s.sessions == nil {
		s.sessions = session.NewManager()
	}
	if s.monitor == nil {
		s.monitor = monitor.NewMonitor("tapserver")
	}

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start runs the HTTP, RPC and gRPC health listeners until ctx is cancelled
// or one of them fails, then shuts the rest down.
func (s *GameServer) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var rpcServer *tapserver_rpc.Server
	if s.cfg.RPCAddress != "" {
		var err error
		rpcServer, err = tapserver_rpc.NewServer(s.cfg.RPCAddress)
		if err != nil {
			return err
		}
		if err := rpcServer.Register(tapserver_rpc.NewRoomService(s.machine, s.archive)); err != nil {
			rpcServer.Stop()
			return err
		}
		g.Go(rpcServer.Start)
	}

	var healthServer *tapserver_rpc.HealthServer
	if s.cfg.GRPCAddress != "" {
		var err error
		healthServer, err = tapserver_rpc.NewHealthServer(s.cfg.GRPCAddress, s.store, 0)
		if err != nil {
			if rpcServer != nil {
				rpcServer.Stop()
			}
			return err
		}
		g.Go(healthServer.Start)
	}

	g.Go(func() error {
		logger.Log.Infof("Game server listening on %s", s.cfg.HTTPAddress)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		s.shutdownOnce.Do(func() { close(s.shutdownChan) })
		s.sessions.CloseAll()
		if rpcServer != nil {
			rpcServer.Stop()
		}
		if healthServer != nil {
			healthServer.Stop()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting connections and closes open websocket loops.
func (s *GameServer) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() { close(s.shutdownChan) })
	s.sessions.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

func checkOrigin(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}
