package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"shoplist.app/internal/obs"
)

// GRPCHealth mirrors readiness into the standard grpc.health.v1 service, both
// for the whole server ("") and for serviceName.
type GRPCHealth struct {
	server    *health.Server
	readiness readinessChecker
}

func NewGRPCHealth(r readinessChecker) *GRPCHealth {
	if r == nil {
		r = ReadyProbe{}
	}
	h := &GRPCHealth{server: health.NewServer(), readiness: r}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register installs the health service on s.
func (h *GRPCHealth) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Refresh runs the readiness check once and publishes the result.
func (h *GRPCHealth) Refresh(ctx context.Context) bool {
	if err := h.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return false
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return true
}

// Run refreshes every interval until ctx is done, then marks the server as
// shutting down so watchers see NOT_SERVING.
func (h *GRPCHealth) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.server.Shutdown()
			return nil
		case <-ticker.C:
			h.Refresh(ctx)
		}
	}
}

func (h *GRPCHealth) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(serviceName, status)
}

// NewGRPCServer returns a server exposing the health service.
func NewGRPCServer(h *GRPCHealth, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	h.Register(s)
	return s
}
