package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/mettice/nodeai/internal/application/workers"
	"github.com/mettice/nodeai/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestServer_ReportsPoolHealth(t *testing.T) {
	logger := zaptest.NewLogger(t)

	pool := workers.NewPool(2, 4, ports.NopMetrics{}, logger, time.Hour)
	require.NoError(t, pool.Start())
	t.Cleanup(func() { _ = pool.Shutdown(context.Background()) })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := newServer(lis, &Config{Pool: pool, Logger: logger})
	go func() { _ = srv.Start() }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	conn, err := grpc.NewClient(srv.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	resp, err := client.Check(t.Context(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)

	srv.SetServing(false)
	resp, err = client.Check(t.Context(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.Status)
}
