package grpcx

import (
	"context"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewServer returns a server with tracing and request-id propagation installed.
func NewServer(extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(UnaryServerRequestIDInterceptor()),
	}
	return grpc.NewServer(append(opts, extra...)...)
}

// RegisterHealth installs the standard health service and keeps the overall status in step with
// ready until ctx ends. A nil ready always reports SERVING.
func RegisterHealth(ctx context.Context, srv *grpc.Server, every time.Duration, ready func(context.Context) error) *health.Server {
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	if ready == nil {
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return hs
	}
	if every <= 0 {
		every = 10 * time.Second
	}

	refresh := func() {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := ready(checkCtx); err != nil {
			hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	}
	refresh()
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				hs.Shutdown()
				return
			case <-ticker.C:
				refresh()
			}
		}
	}()
	return hs
}
