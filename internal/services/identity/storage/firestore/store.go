// Package firestore adapts a Cloud Firestore client to the document store.
package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store implements storage.Store on a Firestore database.
type Store struct {
	client *firestore.Client
}

// New wraps an existing client.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Open creates a client for projectID using ambient credentials.
func Open(ctx context.Context, projectID string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("while creating firestore client: %w", err)
	}
	return New(client), nil
}

// Close releases the client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Get returns the document at path.
func (s *Store) Get(ctx context.Context, path string) (*storage.Snapshot, error) {
	ref, err := s.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, mapError(fmt.Sprintf("while reading %s", path), err)
	}
	return toSnapshot(path, snap)
}

// Set writes a document, merging into existing fields when requested.
func (s *Store) Set(ctx context.Context, path string, data any, opts ...storage.SetOption) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	encoded, err := storage.Encode(data)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, encoded, setOptions(opts)...); err != nil {
		return mapError(fmt.Sprintf("while writing %s", path), err)
	}
	return nil
}

// Update applies field updates to an existing document.
func (s *Store) Update(ctx context.Context, path string, updates []storage.Update) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	fsUpdates, err := toUpdates(updates)
	if err != nil {
		return err
	}
	if _, err := ref.Update(ctx, fsUpdates); err != nil {
		return mapError(fmt.Sprintf("while updating %s", path), err)
	}
	return nil
}

// Delete removes a document; Firestore deletes without a precondition succeed
// on missing documents.
func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return mapError(fmt.Sprintf("while deleting %s", path), err)
	}
	return nil
}

// Query runs an equality query with optional ordering and limit.
func (s *Store) Query(ctx context.Context, q storage.Query) ([]*storage.Snapshot, error) {
	filters, err := storage.EncodeFilters(q.Filters)
	if err != nil {
		return nil, err
	}
	query := s.client.Collection(q.Collection).Query
	for _, filter := range filters {
		query = query.Where(filter.Field, "==", filter.Value)
	}
	if q.OrderBy != "" {
		direction := firestore.Asc
		if q.Descending {
			direction = firestore.Desc
		}
		query = query.OrderBy(q.OrderBy, direction)
	}
	if limit := serverLimit(q); limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()
	var out []*storage.Snapshot
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while querying %s: %w", q.Collection, err)
		}
		converted, err := toSnapshot(storage.Path(q.Collection, snap.Ref.ID), snap)
		if err != nil {
			return nil, err
		}
		out = append(out, converted)
	}
	return storage.OrderAndLimit(out, q), nil
}

// serverLimit is the limit safe to push to Firestore. Ordered queries compare
// RFC 3339 text server-side, which misorders timestamps whose fractional
// digits differ, so they are limited after the chronological sort instead.
func serverLimit(q storage.Query) int {
	if q.OrderBy != "" {
		return 0
	}
	return q.Limit
}

// RunTransaction delegates to Firestore, which retries fn on contention.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, fsTx *firestore.Transaction) error {
		return fn(ctx, &transaction{store: s, tx: fsTx})
	})
}

// Batch returns a write batch committed as a write-only transaction.
func (s *Store) Batch() storage.Batch {
	return &batch{store: s}
}

func (s *Store) doc(path string) (*firestore.DocumentRef, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("invalid document path %q", path)
	}
	return ref, nil
}

type transaction struct {
	store *Store
	tx    *firestore.Transaction
}

func (t *transaction) Get(path string) (*storage.Snapshot, error) {
	ref, err := t.store.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := t.tx.Get(ref)
	if err != nil {
		return nil, mapError(fmt.Sprintf("while reading %s", path), err)
	}
	return toSnapshot(path, snap)
}

func (t *transaction) Set(path string, data any, opts ...storage.SetOption) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	encoded, err := storage.Encode(data)
	if err != nil {
		return err
	}
	return t.tx.Set(ref, encoded, setOptions(opts)...)
}

func (t *transaction) Update(path string, updates []storage.Update) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	fsUpdates, err := toUpdates(updates)
	if err != nil {
		return err
	}
	return t.tx.Update(ref, fsUpdates)
}

func (t *transaction) Delete(path string) error {
	ref, err := t.store.doc(path)
	if err != nil {
		return err
	}
	return t.tx.Delete(ref)
}

type batch struct {
	storage.Writes
	store *Store
}

func (b *batch) Commit(ctx context.Context) error {
	ops, err := b.Ops()
	if err != nil {
		return err
	}
	if err := storage.CheckBatchSize(len(ops)); err != nil {
		return err
	}
	err = b.store.client.RunTransaction(ctx, func(ctx context.Context, fsTx *firestore.Transaction) error {
		for _, op := range ops {
			ref, err := b.store.doc(op.Path)
			if err != nil {
				return err
			}
			switch op.Kind {
			case storage.OpSet:
				var setOpts []firestore.SetOption
				if op.Merge {
					setOpts = append(setOpts, firestore.MergeAll)
				}
				if err := fsTx.Set(ref, op.Data, setOpts...); err != nil {
					return err
				}
			case storage.OpUpdate:
				if err := fsTx.Update(ref, fromEncoded(op.Updates)); err != nil {
					return err
				}
			case storage.OpDelete:
				if err := fsTx.Delete(ref); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return mapError("while committing batch", err)
	}
	return nil
}

func setOptions(opts []storage.SetOption) []firestore.SetOption {
	if storage.ResolveSetOptions(opts).Merge {
		return []firestore.SetOption{firestore.MergeAll}
	}
	return nil
}

func toUpdates(updates []storage.Update) ([]firestore.Update, error) {
	encoded, err := storage.EncodeUpdates(updates)
	if err != nil {
		return nil, err
	}
	return fromEncoded(encoded), nil
}

func fromEncoded(updates []storage.Update) []firestore.Update {
	out := make([]firestore.Update, 0, len(updates))
	for _, update := range updates {
		value := update.Value
		switch v := value.(type) {
		case storage.IncrementValue:
			value = firestore.Increment(v.By)
		case storage.DeleteFieldValue:
			value = firestore.Delete
		}
		out = append(out, firestore.Update{Path: update.Path, Value: value})
	}
	return out
}

func toSnapshot(path string, snap *firestore.DocumentSnapshot) (*storage.Snapshot, error) {
	data, err := storage.Encode(snap.Data())
	if err != nil {
		return nil, fmt.Errorf("while decoding %s: %w", path, err)
	}
	return &storage.Snapshot{Path: path, Data: data}, nil
}

func mapError(message string, err error) error {
	if status.Code(err) == codes.NotFound || errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", message, storage.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", message, err)
}
