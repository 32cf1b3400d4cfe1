package storage

import (
	"context"
	"strings"

	"github.com/Natural-Highs/live-sub000/internal/platform/errors"
)

// MaxBatchWrites is the most operations one atomic batch may carry.
const MaxBatchWrites = 500

// ErrNotFound indicates a requested document is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "document not found")

// Store is the document store used by every identity flow.
type Store interface {
	Get(ctx context.Context, path string) (*Snapshot, error)
	Set(ctx context.Context, path string, data any, opts ...SetOption) error
	// Update applies field updates to an existing document and fails with
	// ErrNotFound when the document is absent.
	Update(ctx context.Context, path string, updates []Update) error
	// Delete removes a document; deleting a missing document succeeds.
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]*Snapshot, error)
	// RunTransaction runs fn with read-then-write isolation. Writes issued
	// through tx become visible atomically when fn returns nil.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Batch() Batch
}

// Tx is the handle passed to a transaction function. All reads must happen
// before the first write.
type Tx interface {
	Get(path string) (*Snapshot, error)
	Set(path string, data any, opts ...SetOption) error
	Update(path string, updates []Update) error
	Delete(path string) error
}

// Batch accumulates writes that commit atomically.
type Batch interface {
	Set(path string, data any, opts ...SetOption)
	Update(path string, updates []Update)
	Delete(path string)
	// Len reports the number of queued operations.
	Len() int
	// Commit applies every queued write or none of them. Batches over
	// MaxBatchWrites fail without touching the backend.
	Commit(ctx context.Context) error
}

// SetOption adjusts Set behavior.
type SetOption func(*SetOptions)

// SetOptions holds resolved Set options.
type SetOptions struct {
	Merge bool
}

// Merge keeps existing fields that data does not mention.
func Merge() SetOption {
	return func(o *SetOptions) { o.Merge = true }
}

// ResolveSetOptions folds opts into a SetOptions value.
func ResolveSetOptions(opts []SetOption) SetOptions {
	var resolved SetOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&resolved)
		}
	}
	return resolved
}

// Update sets one field. Path may address nested maps with dots.
type Update struct {
	Path  string
	Value any
}

// IncrementValue is the transform produced by Increment.
type IncrementValue struct {
	By int64
}

// Increment adds n to a numeric field, treating a missing field as zero.
func Increment(n int64) IncrementValue {
	return IncrementValue{By: n}
}

// DeleteFieldValue is the transform produced by DeleteField.
type DeleteFieldValue struct{}

// DeleteField removes a field in an Update. Removing a missing field succeeds.
func DeleteField() DeleteFieldValue {
	return DeleteFieldValue{}
}

// Filter is an equality predicate on a field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	// Limit caps the result size; zero means unlimited.
	Limit int
}

// Path joins collection and document segments into a document path.
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath returns the parent collection and the document id of path.
func SplitPath(path string) (collection string, id string) {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "", path
	}
	return path[:idx], path[idx+1:]
}
