package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/algotwist369/bookby247/libs/config"
	"github.com/algotwist369/bookby247/libs/grpcx"
	"github.com/algotwist369/bookby247/libs/runtime"
)

// startGrpcServer exposes the standard gRPC health service so meshes can check readiness.
func startGrpcServer(ctx context.Context, logger *slog.Logger, checks []runtime.ReadyCheck) error {
	port, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpcx.NewServer()
	grpcx.RegisterHealth(ctx, srv, config.Seconds("GRPC_HEALTH_INTERVAL_SECONDS", 10*time.Second), func(ctx context.Context) error {
		var errs []error
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				errs = append(errs, errors.New(c.Name+": "+err.Error()))
			}
		}
		return errors.Join(errs...)
	})

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}

// checkHealth asks a running instance for its gRPC health status. It backs the healthcheck
// subcommand used by container liveness checks.
func checkHealth(ctx context.Context, addr string) error {
	conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	ctx = grpcx.WithRequestID(ctx, "healthcheck-"+grpcx.NewRequestID())
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service is %s", resp.GetStatus())
	}
	return nil
}

// runHealthcheck exits 0 when the local gRPC health service reports SERVING.
func runHealthcheck() int {
	port, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	addr := config.String("GRPC_HEALTH_ADDR", "127.0.0.1:"+port)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := checkHealth(ctx, addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
