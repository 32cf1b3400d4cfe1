// Package cmd holds the shared command entrypoint behavior: configuration
// loading and telemetry lifecycle around a service run loop.
package cmd

import (
	"context"
	"errors"
	"flag"
	"strings"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/platform/config"
	"github.com/Natural-Highs/live-sub000/internal/platform/otel"
	"github.com/golang/glog"
)

// ServiceIdentity names the identity service in telemetry, logs and health checks.
const ServiceIdentity = "identity"

const telemetryShutdownTimeout = 5 * time.Second

// ParseConfig fills cfg from the environment. Callers bind flags afterwards
// so that flags override env values.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses args into fs. A nil args slice parses as empty.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag set is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// RunWithTelemetry installs the tracer provider for service, runs run, and
// flushes traces and logs on the way out.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer glog.Flush()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			glog.Warningf("%s: telemetry shutdown: %v", service, err)
		}
	}()

	started := time.Now()
	glog.Infof("%s: starting", service)
	err = run(ctx)
	glog.Infof("%s: stopped after %s", service, time.Since(started).Round(time.Second))
	return err
}

// Exit logs err against service and terminates the process with status 1.
func Exit(service string, err error) {
	glog.Exitf("%s: %v", service, err)
}
