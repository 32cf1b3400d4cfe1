package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ProbeStage names the step of a health probe that failed.
type ProbeStage string

const (
	// ProbeStageClient means the client could not be constructed.
	ProbeStageClient ProbeStage = "client"
	// ProbeStageHealth means the server never reported SERVING.
	ProbeStageHealth ProbeStage = "health"
)

// ProbeError carries the failing stage of a DialWithHealth call.
type ProbeError struct {
	Addr  string
	Stage ProbeStage
	Err   error
}

func (e *ProbeError) Error() string {
	if e == nil {
		return "gRPC probe error"
	}
	return fmt.Sprintf("probe %s (%s): %v", e.Addr, e.Stage, e.Err)
}

func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// probeDialOptions are used for plaintext loopback probes.
func probeDialOptions() []gogrpc.DialOption {
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(insecure.NewCredentials()),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// DialWithHealth connects to addr and waits until service reports SERVING.
// The returned connection is owned by the caller; on failure it is closed.
func DialWithHealth(ctx context.Context, addr, service string, timeout time.Duration) (*gogrpc.ClientConn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := gogrpc.NewClient(addr, probeDialOptions()...)
	if err != nil {
		return nil, &ProbeError{Addr: addr, Stage: ProbeStageClient, Err: err}
	}
	if err := WaitForHealth(ctx, conn, service); err != nil {
		_ = conn.Close()
		return nil, &ProbeError{Addr: addr, Stage: ProbeStageHealth, Err: err}
	}
	return conn, nil
}
