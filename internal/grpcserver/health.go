// Package grpcserver exposes the standard gRPC health service. Each queue is
// reported as its own service name next to the overall "" service, so a
// check can cover one worker pool or the whole process.
package grpcserver

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// PingFunc reports whether the shared backend is reachable.
type PingFunc func(ctx context.Context) error

// Health keeps the serving status of the queues in step with the backend.
type Health struct {
	srv      *health.Server
	ping     PingFunc
	services []string
}

// NewHealth returns a Health reporting on services. Every service starts
// NOT_SERVING until the first Refresh.
func NewHealth(ping PingFunc, services ...string) *Health {
	h := &Health{srv: health.NewServer(), ping: ping, services: services}
	for _, name := range h.names() {
		h.srv.SetServingStatus(name, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// NewServer builds a gRPC server with the health service registered.
func (h *Health) NewServer(opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(s, h.srv)
	return s
}

// Refresh pings the backend and updates every service status.
func (h *Health) Refresh(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := h.ping(ctx); err != nil {
		slog.Warn("health: backend ping failed", "err", err)
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	for _, name := range h.names() {
		h.srv.SetServingStatus(name, st)
	}
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() { h.srv.Shutdown() }

func (h *Health) names() []string {
	return append([]string{""}, h.services...)
}
