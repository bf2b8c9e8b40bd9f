package rpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/wfunc/tapserver/logger"
	"github.com/wfunc/tapserver/persistence"
)

// StoreService is the health service name reported for the room store.
const StoreService = "tapserver.store"

// HealthServer serves grpc.health.v1 and keeps the status in step with
// periodic store pings.
type HealthServer struct {
	listener net.Listener
	grpc     *grpc.Server
	health   *health.Server
	pinger   persistence.Pinger
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewHealthServer(addr string, pinger persistence.Pinger, interval time.Duration) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		listener: listener,
		grpc:     srv,
		health:   hs,
		pinger:   pinger,
		interval: interval,
		stop:     make(chan struct{}),
	}, nil
}

func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

// Start checks the store once, then serves until Stop.
func (h *HealthServer) Start() error {
	h.check()

	h.wg.Add(1)
	go h.watch()

	logger.Log.Infof("gRPC health server listening on %s", h.Addr())
	if err := h.grpc.Serve(h.listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

func (h *HealthServer) watch() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.check()
		}
	}
}

func (h *HealthServer) check() {
	status := healthpb.HealthCheckResponse_SERVING
	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.interval)
		err := h.pinger.Ping(ctx)
		cancel()
		if err != nil {
			logger.Log.Warnf("Store ping failed: %v", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(StoreService, status)
}

func (h *HealthServer) Stop() {
	h.once.Do(func() {
		close(h.stop)
		h.health.Shutdown()
		h.grpc.GracefulStop()
		h.wg.Wait()
	})
}
