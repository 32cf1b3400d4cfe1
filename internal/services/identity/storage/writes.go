package storage

import (
	"context"
	"fmt"
)

// OpKind identifies a queued write.
type OpKind int

const (
	OpSet OpKind = iota
	OpUpdate
	OpDelete
)

// Op is one encoded write waiting to be applied.
type Op struct {
	Kind    OpKind
	Path    string
	Data    map[string]any
	Merge   bool
	Updates []Update
}

// Writes queues encoded operations for batch and transaction implementations.
// The first encoding error is kept and reported by Ops.
type Writes struct {
	ops []Op
	err error
}

// Set queues a document write.
func (w *Writes) Set(path string, data any, opts ...SetOption) {
	encoded, err := Encode(data)
	if err != nil {
		w.fail(fmt.Errorf("set %s: %w", path, err))
		return
	}
	w.ops = append(w.ops, Op{Kind: OpSet, Path: path, Data: encoded, Merge: ResolveSetOptions(opts).Merge})
}

// Update queues field updates.
func (w *Writes) Update(path string, updates []Update) {
	encoded, err := EncodeUpdates(updates)
	if err != nil {
		w.fail(fmt.Errorf("update %s: %w", path, err))
		return
	}
	w.ops = append(w.ops, Op{Kind: OpUpdate, Path: path, Updates: encoded})
}

// Delete queues a document delete.
func (w *Writes) Delete(path string) {
	w.ops = append(w.ops, Op{Kind: OpDelete, Path: path})
}

// Len reports the number of queued operations.
func (w *Writes) Len() int {
	return len(w.ops)
}

// Ops returns the queued operations, or the first encoding error.
func (w *Writes) Ops() ([]Op, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.ops, nil
}

// CheckBatchSize rejects batches over MaxBatchWrites.
func CheckBatchSize(n int) error {
	if n > MaxBatchWrites {
		return fmt.Errorf("batch has %d writes, limit is %d", n, MaxBatchWrites)
	}
	return nil
}

func (w *Writes) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

// DeleteAll removes paths in as few full batches as possible.
func DeleteAll(ctx context.Context, store Store, paths []string) error {
	for start := 0; start < len(paths); start += MaxBatchWrites {
		end := min(start+MaxBatchWrites, len(paths))
		batch := store.Batch()
		for _, path := range paths[start:end] {
			batch.Delete(path)
		}
		if err := batch.Commit(ctx); err != nil {
			return err
		}
	}
	return nil
}
