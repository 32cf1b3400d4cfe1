// Package identity parses identity command flags and starts the service.
package identity

import (
	"context"
	"flag"
	"fmt"

	entrypoint "github.com/Natural-Highs/live-sub000/internal/platform/cmd"
	platformgrpc "github.com/Natural-Highs/live-sub000/internal/platform/grpc"
	"github.com/Natural-Highs/live-sub000/internal/platform/timeouts"
	server "github.com/Natural-Highs/live-sub000/internal/services/identity/app"
	"github.com/golang/glog"
)

// Config holds identity command configuration.
type Config struct {
	App server.Config
	// HealthCheck probes a running instance instead of serving.
	HealthCheck bool
	HealthAddr  string `env:"LIVE_HEALTH_ADDR"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.App.HTTPAddr, "http-addr", cfg.App.HTTPAddr, "The identity HTTP listen address")
	fs.IntVar(&cfg.App.GRPCPort, "grpc-port", cfg.App.GRPCPort, "The gRPC health server port")
	fs.StringVar(&cfg.App.Backend, "backend", cfg.App.Backend, "Document store backend: memory, sqlite or firestore")
	fs.StringVar(&cfg.App.SQLitePath, "sqlite-path", cfg.App.SQLitePath, "SQLite database path")
	fs.StringVar(&cfg.App.FirestoreProject, "firestore-project", cfg.App.FirestoreProject, "Firestore project id")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "Probe the gRPC health endpoint and exit")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "Address probed by -healthcheck (defaults to localhost and -grpc-port)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the identity service, or probes one when HealthCheck is set.
func Run(ctx context.Context, cfg Config) error {
	if cfg.HealthCheck {
		return probe(ctx, cfg)
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceIdentity, func(ctx context.Context) error {
		return server.Run(ctx, cfg.App)
	})
}

func probe(ctx context.Context, cfg Config) error {
	addr := cfg.HealthAddr
	if addr == "" {
		addr = fmt.Sprintf("127.0.0.1:%d", cfg.App.GRPCPort)
	}
	conn, err := platformgrpc.DialWithHealth(ctx, addr, entrypoint.ServiceIdentity, timeouts.HealthProbe)
	if err != nil {
		return err
	}
	glog.Infof("identity at %s is serving", addr)
	return conn.Close()
}
