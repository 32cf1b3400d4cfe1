// Package memory implements the document store in process memory.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
)

// Store keeps documents in a map keyed by path. Transactions and writes are
// serialized by one writer lock.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	docs    map[string]map[string]any
}

// New returns an empty store.
func New() *Store {
	return &Store{docs: map[string]map[string]any{}}
}

// Get returns the document at path.
func (s *Store) Get(ctx context.Context, path string) (*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(path)
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
	var writes storage.Writes
	writes.Delete(path)
	return s.commit(ctx, &writes)
}

// Query returns documents directly under q.Collection.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]*storage.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filters, err := storage.EncodeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	var out []*storage.Snapshot
	for path, data := range s.docs {
		collection, _ := storage.SplitPath(path)
		if collection != q.Collection || !storage.Matches(data, filters) {
			continue
		}
		out = append(out, &storage.Snapshot{Path: path, Data: storage.CloneData(data)})
	}
	s.mu.RUnlock()

	if q.OrderBy != "" {
		storage.SortSnapshots(out, q.OrderBy, q.Descending)
	} else {
		slices.SortFunc(out, func(a, b *storage.Snapshot) int { return strings.Compare(a.Path, b.Path) })
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// RunTransaction runs fn while holding the writer lock.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx := &transaction{store: s}
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ops)
}

// Batch returns an empty write batch.
func (s *Store) Batch() storage.Batch {
	return &batch{store: s}
}

// Paths lists stored document paths with the given prefix.
func (s *Store) Paths(prefix string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for path := range s.docs {
		if strings.HasPrefix(path, prefix) {
			out = append(out, path)
		}
	}
	return out
}

func (s *Store) commit(ctx context.Context, writes *storage.Writes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ops, err := writes.Ops()
	if err != nil {
		return err
	}
	if err := storage.CheckBatchSize(len(ops)); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ops)
}

func (s *Store) getLocked(path string) (*storage.Snapshot, error) {
	data, ok := s.docs[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.Snapshot{Path: path, Data: storage.CloneData(data)}, nil
}

// applyLocked validates every op against a staged copy before publishing,
// so a failing op leaves the store untouched.
func (s *Store) applyLocked(ops []storage.Op) error {
	staged := map[string]map[string]any{}
	deleted := map[string]bool{}
	current := func(path string) (map[string]any, bool) {
		if deleted[path] {
			return nil, false
		}
		if data, ok := staged[path]; ok {
			return data, true
		}
		data, ok := s.docs[path]
		if !ok {
			return nil, false
		}
		return storage.CloneData(data), true
	}

	for _, op := range ops {
		if strings.TrimSpace(op.Path) == "" {
			return fmt.Errorf("document path is required")
		}
		switch op.Kind {
		case storage.OpSet:
			next := storage.CloneData(op.Data)
			if existing, ok := current(op.Path); ok && op.Merge {
				storage.MergeInto(existing, op.Data)
				next = existing
			}
			staged[op.Path] = next
			delete(deleted, op.Path)
		case storage.OpUpdate:
			existing, ok := current(op.Path)
			if !ok {
				return fmt.Errorf("update %s: %w", op.Path, storage.ErrNotFound)
			}
			if err := storage.ApplyUpdates(existing, op.Updates); err != nil {
				return fmt.Errorf("update %s: %w", op.Path, err)
			}
			staged[op.Path] = existing
		case storage.OpDelete:
			delete(staged, op.Path)
			deleted[op.Path] = true
		}
	}

	for path := range deleted {
		delete(s.docs, path)
	}
	for path, data := range staged {
		s.docs[path] = data
	}
	return nil
}

type transaction struct {
	store  *Store
	writes storage.Writes
}

func (t *transaction) Get(path string) (*storage.Snapshot, error) {
	if t.writes.Len() > 0 {
		return nil, fmt.Errorf("transaction reads must precede writes")
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.getLocked(path)
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
