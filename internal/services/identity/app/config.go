package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/notify"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/passkey"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/session"
)

// Storage backends.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Config holds every setting of the identity process.
type Config struct {
	HTTPAddr         string        `env:"LIVE_HTTP_ADDR"         envDefault:":8080"`
	GRPCPort         int           `env:"LIVE_GRPC_PORT"         envDefault:"8090"`
	Backend          string        `env:"LIVE_STORAGE_BACKEND"   envDefault:"sqlite"`
	SQLitePath       string        `env:"LIVE_SQLITE_PATH"       envDefault:"data/identity.db"`
	FirestoreProject string        `env:"LIVE_FIRESTORE_PROJECT"`
	ConversionTTL    time.Duration `env:"LIVE_CONVERSION_TTL"    envDefault:"24h"`
	SweepInterval    time.Duration `env:"LIVE_SWEEP_INTERVAL"    envDefault:"10m"`

	Session session.Config
	Passkey passkey.Config
	Mail    notify.Config
}

// Validate checks settings that have no usable default.
func (c Config) Validate() error {
	switch strings.TrimSpace(c.Backend) {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("LIVE_SQLITE_PATH is required for the sqlite backend")
		}
	case BackendFirestore:
		if strings.TrimSpace(c.FirestoreProject) == "" {
			return fmt.Errorf("LIVE_FIRESTORE_PROJECT is required for the firestore backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port %d", c.GRPCPort)
	}
	return c.Passkey.Normalize().Validate()
}
