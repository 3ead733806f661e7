package main

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/algotwist369/bookby247/libs/grpcx"
)

func serveHealth(t *testing.T, ready func(context.Context) error) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	srv := grpcx.NewServer()
	grpcx.RegisterHealth(ctx, srv, time.Hour, ready)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(func() {
		cancel()
		srv.Stop()
	})
	return lis.Addr().String()
}

func TestCheckHealth(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	assert.NoError(t, checkHealth(ctx, serveHealth(t, func(context.Context) error { return nil })))

	err := checkHealth(ctx, serveHealth(t, func(context.Context) error { return errors.New("db down") }))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NOT_SERVING")
}

func TestRunHealthcheckWithoutServer(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	t.Setenv("GRPC_HEALTH_ADDR", addr)
	assert.Equal(t, 1, runHealthcheck())

	t.Setenv("GRPC_HEALTH_ADDR", serveHealth(t, nil))
	assert.Equal(t, 0, runHealthcheck())
}
