// Package health exposes the engine's state through the standard gRPC
// health checking protocol (grpc.health.v1.Health).
//
// The engine reports SERVING once a cycle has produced an allocation and
// NOT_SERVING after a cycle ends without one (for example an infeasible
// configuration, or every lane absent). Both the overall status ("") and
// the named service track the same state.
package health

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/greenlight/internal/cycle"
	"github.com/banshee-data/greenlight/internal/monitoring"
)

// ServiceName is the health service name reported for the engine.
const ServiceName = "greenlight.Engine"

var logf = monitoring.Component("Health")

// stopTimeout bounds how long ServeListener waits for in-flight RPCs.
const stopTimeout = 2 * time.Second

// Reporter tracks engine health and serves it over gRPC.
type Reporter struct {
	srv *grpchealth.Server

	mu       sync.Mutex
	status   healthpb.HealthCheckResponse_ServingStatus
	reason   string
	shutdown bool
}

// NewReporter creates a Reporter in the NOT_SERVING state.
func NewReporter() *Reporter {
	r := &Reporter{srv: grpchealth.NewServer()}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING, "no cycle yet")
	return r
}

func (r *Reporter) set(status healthpb.HealthCheckResponse_ServingStatus, reason string) {
	r.mu.Lock()
	if r.shutdown {
		r.mu.Unlock()
		return
	}
	changed := r.status != status
	r.status, r.reason = status, reason
	r.mu.Unlock()

	r.srv.SetServingStatus("", status)
	r.srv.SetServingStatus(ServiceName, status)
	if changed {
		logf("status %s (%s)", status, reason)
	}
}

// Publish implements cycle.Sink: it updates the status from a payload.
func (r *Reporter) Publish(p *cycle.Payload) error {
	if p.OK() {
		r.set(healthpb.HealthCheckResponse_SERVING, "cycle "+p.CycleID)
		return nil
	}
	r.set(healthpb.HealthCheckResponse_NOT_SERVING, p.Error)
	return nil
}

var _ cycle.Sink = (*Reporter)(nil)

// Status returns the current status and the reason it was last set.
func (r *Reporter) Status() (healthpb.HealthCheckResponse_ServingStatus, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.reason
}

// Register adds the health service to s.
func (r *Reporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, r.srv)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (r *Reporter) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	r.status, r.reason = healthpb.HealthCheckResponse_NOT_SERVING, "shutting down"
	r.mu.Unlock()
	r.srv.Shutdown()
}

// Serve listens on addr and serves the health service until ctx is done.
func (r *Reporter) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return r.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is done, then stops gracefully.
func (r *Reporter) ServeListener(ctx context.Context, lis net.Listener) error {
	s := grpc.NewServer()
	r.Register(s)

	errCh := make(chan error, 1)
	go func() {
		logf("gRPC health listening on %s", lis.Addr())
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		r.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(stopTimeout):
			// open Watch streams never finish on their own
			s.Stop()
			<-stopped
		}
		<-errCh
		logf("gRPC health stopped")
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
