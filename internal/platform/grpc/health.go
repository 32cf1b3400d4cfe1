// Package grpc hosts the gRPC health surface used by container probes.
package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang/glog"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	probeCallTimeout = time.Second
	probeMinBackoff  = 200 * time.Millisecond
	probeMaxBackoff  = time.Second
)

// HealthServer is a gRPC server that serves only the health API.
type HealthServer struct {
	Server *gogrpc.Server
	Health *health.Server
}

// NewHealthServer reports the overall status and each named service as SERVING.
func NewHealthServer(services ...string) *HealthServer {
	hs := &HealthServer{
		Server: gogrpc.NewServer(gogrpc.StatsHandler(otelgrpc.NewServerHandler())),
		Health: health.NewServer(),
	}
	healthpb.RegisterHealthServer(hs.Server, hs.Health)
	hs.SetServing("", true)
	for _, name := range services {
		hs.SetServing(name, true)
	}
	return hs
}

// SetServing flips the reported status of one service. The empty name is the
// overall server status.
func (h *HealthServer) SetServing(service string, serving bool) {
	if h == nil || h.Health == nil {
		return
	}
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.Health.SetServingStatus(service, status)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (h *HealthServer) Stop() {
	if h == nil {
		return
	}
	if h.Health != nil {
		h.Health.Shutdown()
	}
	if h.Server != nil {
		h.Server.GracefulStop()
	}
}

// WaitForHealth polls service until it reports SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string) error {
	if conn == nil {
		return errors.New("gRPC connection is not configured")
	}
	client := healthpb.NewHealthClient(conn)
	backoff := probeMinBackoff
	for attempt := 1; ; attempt++ {
		status, err := checkOnce(ctx, client, service)
		if err == nil && status == healthpb.HealthCheckResponse_SERVING {
			return nil
		}
		if err != nil {
			glog.V(1).Infof("health probe %d for %q: %v", attempt, service, err)
		} else {
			glog.V(1).Infof("health probe %d for %q: %s", attempt, service, status)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait for gRPC health: %w", ctx.Err())
		case <-timer.C:
		}
		backoff = min(backoff*2, probeMaxBackoff)
	}
}

func checkOnce(ctx context.Context, client healthpb.HealthClient, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	callCtx, cancel := context.WithTimeout(ctx, probeCallTimeout)
	defer cancel()
	resp, err := client.Check(callCtx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
