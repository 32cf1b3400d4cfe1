package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/firestore"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/memory"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/sqlite"
)

// openStore opens the configured backend. The returned close func is never
// nil.
func openStore(ctx context.Context, cfg Config) (storage.Store, func() error, error) {
	switch strings.TrimSpace(cfg.Backend) {
	case BackendMemory:
		return memory.New(), func() error { return nil }, nil
	case BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case BackendFirestore:
		store, err := firestore.Open(ctx, cfg.FirestoreProject)
		if err != nil {
			return nil, nil, fmt.Errorf("open firestore store: %w", err)
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
