package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/Natural-Highs/live-sub000/internal/platform/storage/sqlitemigrate"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Store implements the document store over SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open opens a SQLite document store and applies bundled migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the document at path.
func (s *Store) Get(ctx context.Context, path string) (*storage.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return getDocument(ctx, s.sqlDB, path)
}

// Set writes a document.
func (s *Store) Set(ctx context.Context, path string, data any, opts ...storage.SetOption) error {
	var writes storage.Writes
	writes.Set(path, data, opts...)
	return s.commit(ctx, &writes)
}

// Update applies field updates to an existing document.
func (s *Store) Update(ctx context.Context, path string, updates []storage.Update) error {
	var writes storage.Writes
	writes.Update(path, updates)
	return s.commit(ctx, &writes)
}

// Delete removes a document if present.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete %s: %w", path, err)
	}
	return nil
}

// Query filters by JSON field equality in SQL and orders in Go, because
// timestamps stored as RFC 3339 text do not sort lexically.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]*storage.Snapshot, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	filters, err := storage.EncodeFilters(q.Filters)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	sb.WriteString(`SELECT path, data FROM documents WHERE collection = ?`)
	args := []any{q.Collection}
	for _, filter := range filters {
		sb.WriteString(` AND json_extract(data, ?) = ?`)
		args = append(args, "$."+filter.Field, sqlValue(filter.Value))
	}
	sb.WriteString(` ORDER BY path`)

	rows, err := s.sqlDB.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var out []*storage.Snapshot
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", q.Collection, err)
		}
		snap, err := decodeSnapshot(path, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", q.Collection, err)
	}

	return storage.OrderAndLimit(out, q), nil
}

// RunTransaction runs fn inside an IMMEDIATE SQLite transaction. Writes are
// buffered and applied just before commit.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	tx := &transaction{ctx: ctx, sqlTx: sqlTx}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	ops, err := tx.writes.Ops()
	if err != nil {
		return err
	}
	if err := storage.CheckBatchSize(len(ops)); err != nil {
		return err
	}
	if err := applyOps(ctx, sqlTx, ops, s.now()); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Batch returns an empty write batch.
func (s *Store) Batch() storage.Batch {
	return &batch{store: s}
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func (s *Store) commit(ctx context.Context, writes *storage.Writes) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	ops, err := writes.Ops()
	if err != nil {
		return err
	}
	if err := storage.CheckBatchSize(len(ops)); err != nil {
		return err
	}
	sqlTx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	if err := applyOps(ctx, sqlTx, ops, s.now()); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

func applyOps(ctx context.Context, q queryer, ops []storage.Op, now time.Time) error {
	for _, op := range ops {
		if strings.TrimSpace(op.Path) == "" {
			return fmt.Errorf("document path is required")
		}
		switch op.Kind {
		case storage.OpSet:
			data := op.Data
			if op.Merge {
				existing, err := getDocument(ctx, q, op.Path)
				switch {
				case err == nil:
					storage.MergeInto(existing.Data, op.Data)
					data = existing.Data
				case !errors.Is(err, storage.ErrNotFound):
					return err
				}
			}
			if err := putDocument(ctx, q, op.Path, data, now); err != nil {
				return err
			}
		case storage.OpUpdate:
			existing, err := getDocument(ctx, q, op.Path)
			if err != nil {
				return fmt.Errorf("update %s: %w", op.Path, err)
			}
			if err := storage.ApplyUpdates(existing.Data, op.Updates); err != nil {
				return fmt.Errorf("update %s: %w", op.Path, err)
			}
			if err := putDocument(ctx, q, op.Path, existing.Data, now); err != nil {
				return err
			}
		case storage.OpDelete:
			if _, err := q.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, op.Path); err != nil {
				return fmt.Errorf("delete %s: %w", op.Path, err)
			}
		}
	}
	return nil
}

func getDocument(ctx context.Context, q queryer, path string) (*storage.Snapshot, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT data FROM documents WHERE path = ?`, path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	return decodeSnapshot(path, raw)
}

func putDocument(ctx context.Context, q queryer, path string, data map[string]any, now time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	collection, _ := storage.SplitPath(path)
	millis := toMillis(now)
	_, err = q.ExecContext(ctx, `
INSERT INTO documents (path, collection, data, create_time, update_time)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET data = excluded.data, update_time = excluded.update_time`,
		path, collection, string(raw), millis, millis,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", path, err)
	}
	return nil
}

func decodeSnapshot(path, raw string) (*storage.Snapshot, error) {
	data := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return &storage.Snapshot{Path: path, Data: data}, nil
}

// sqlValue maps an encoded filter value onto what json_extract returns.
func sqlValue(value any) any {
	if b, ok := value.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return value
}

type transaction struct {
	ctx    context.Context
	sqlTx  *sql.Tx
	writes storage.Writes
}

func (t *transaction) Get(path string) (*storage.Snapshot, error) {
	if t.writes.Len() > 0 {
		return nil, fmt.Errorf("transaction reads must precede writes")
	}
	return getDocument(t.ctx, t.sqlTx, path)
}

func (t *transaction) Set(path string, data any, opts ...storage.SetOption) error {
	t.writes.Set(path, data, opts...)
	return nil
}

func (t *transaction) Update(path string, updates []storage.Update) error {
	t.writes.Update(path, updates)
	return nil
}

func (t *transaction) Delete(path string) error {
	t.writes.Delete(path)
	return nil
}

type batch struct {
	storage.Writes
	store *Store
}

func (b *batch) Commit(ctx context.Context) error {
	return b.store.commit(ctx, &b.Writes)
}
