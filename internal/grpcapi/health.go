// Package grpcapi serves the standard gRPC health service, driven by the
// same readiness probe as /readyz.
package grpcapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"tessera.org/internal/obs"
)

// ServiceName is the name reported next to the overall ("") status.
const ServiceName = "tessera.api"

type ReadinessChecker interface {
	Check(ctx context.Context) error
}

// HealthServer mirrors readiness into grpc.health.v1 serving status.
type HealthServer struct {
	*health.Server
	probe    ReadinessChecker
	interval time.Duration
	timeout  time.Duration
}

func NewHealthServer(probe ReadinessChecker, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &HealthServer{
		Server:   health.NewServer(),
		probe:    probe,
		interval: interval,
		timeout:  2 * time.Second,
	}
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Refresh runs the probe once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) bool {
	ok := true
	if s.probe != nil {
		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()
		if err := s.probe.Check(ctx); err != nil {
			obs.Logger().Warn("grpc_health_not_serving", slog.String("error", err.Error()))
			ok = false
		}
	}
	obs.SetReady(ok)
	if ok {
		s.setStatus(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return ok
}

// Run refreshes the status until ctx is done, then marks everything as not serving.
func (s *HealthServer) Run(ctx context.Context) {
	s.Refresh(ctx)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *HealthServer) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", st)
	s.SetServingStatus(ServiceName, st)
}

// NewServer builds a gRPC server exposing health and reflection.
func NewServer(h *HealthServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(logUnary))
	srv := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(srv, h)
	reflection.Register(srv)
	return srv
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	attrs := []any{
		slog.String("method", info.FullMethod),
		slog.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	obs.Logger().Debug("grpc_request_complete", attrs...)
	return resp, err
}
