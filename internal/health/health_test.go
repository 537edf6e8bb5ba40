package health

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"

	"github.com/banshee-data/greenlight/internal/cycle"
	"github.com/banshee-data/greenlight/internal/monitoring"
	"github.com/banshee-data/greenlight/internal/optimizer"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func okPayload() *cycle.Payload {
	return &cycle.Payload{CycleID: "c1", SignalTimes: optimizer.Allocation{{Lane: "N", Seconds: 60}}}
}

func TestReporter_TracksCycles(t *testing.T) {
	r := NewReporter()
	status, _ := r.Status()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)

	require.NoError(t, r.Publish(okPayload()))
	status, reason := r.Status()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status)
	assert.Equal(t, "cycle c1", reason)

	require.NoError(t, r.Publish(&cycle.Payload{CycleID: "c2", Error: "allocation config error"}))
	status, reason = r.Status()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
	assert.Equal(t, "allocation config error", reason)
}

func dial(t *testing.T, lis *bufconn.Listener) healthpb.HealthClient {
	t.Helper()
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestReporter_ServesHealthProtocol(t *testing.T) {
	r := NewReporter()
	lis := bufconn.Listen(1 << 16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.ServeListener(ctx, lis) }()

	client := dial(t, lis)
	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()

	resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.True(t, proto.Equal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, resp))

	require.NoError(t, r.Publish(okPayload()))

	for _, svc := range []string{"", ServiceName} {
		resp, err = client.Check(callCtx, &healthpb.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.True(t, proto.Equal(&healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, resp), "service %q", svc)
	}

	_, err = client.Check(callCtx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("health server did not stop")
	}
}

func TestReporter_ShutdownIgnoresLaterUpdates(t *testing.T) {
	r := NewReporter()
	r.Shutdown()
	require.NoError(t, r.Publish(okPayload()))
	status, reason := r.Status()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status)
	assert.Equal(t, "shutting down", reason)

	lis := bufconn.Listen(1 << 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.ServeListener(ctx, lis) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer callCancel()
	resp, err := dial(t, lis).Check(callCtx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())
}

func TestServe_BadAddress(t *testing.T) {
	err := NewReporter().Serve(context.Background(), "256.0.0.1:bad")
	assert.Error(t, err)
}
