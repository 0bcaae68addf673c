package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/ashureev/wardline/internal/store"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name the relay reports on, in
// addition to the server-wide "" entry.
const HealthService = "wardline.relay"

const healthCheckInterval = 10 * time.Second

// HealthServer exposes grpc.health.v1 and keeps it in step with the
// message store.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
	repo   store.Repository
}

// NewHealthServer creates a gRPC server with the health service
// registered. Status starts as NOT_SERVING until the first check.
func NewHealthServer(repo store.Repository) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{grpc: srv, health: hs, repo: repo}
}

// Refresh pings the store and updates the reported status.
func (h *HealthServer) Refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, healthPingTimeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("gRPC health: store unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(HealthService, status)
}

// Serve refreshes the status periodically and serves on lis until ctx is
// done.
func (h *HealthServer) Serve(ctx context.Context, lis net.Listener) error {
	h.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(healthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.health.Shutdown()
				h.grpc.GracefulStop()
				return
			case <-ticker.C:
				h.Refresh(ctx)
			}
		}
	}()

	if err := h.grpc.Serve(lis); err != nil && ctx.Err() == nil {
		return fmt.Errorf("serve grpc health: %w", err)
	}
	return nil
}
