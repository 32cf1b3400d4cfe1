// Package storagetest holds a behavior suite every document store backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/google/go-cmp/cmp"
)

type record struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Count     int64     `json:"count"`
	CreatedAt time.Time `json:"createdAt"`
}

// Run exercises open's store against the storage contract.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(t *testing.T, store storage.Store)
	}{
		{"get missing", testGetMissing},
		{"set and get", testSetAndGet},
		{"set merge", testSetMerge},
		{"update", testUpdate},
		{"delete idempotent", testDeleteIdempotent},
		{"query", testQuery},
		{"query limit after time order", testQueryLimitFractionalTimestamps},
		{"transaction commit", testTransactionCommit},
		{"transaction rollback", testTransactionRollback},
		{"batch atomic", testBatchAtomic},
		{"batch limit", testBatchLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open(t))
		})
	}
}

func testGetMissing(t *testing.T, store storage.Store) {
	_, err := store.Get(context.Background(), "things/missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testSetAndGet(t *testing.T, store storage.Store) {
	ctx := context.Background()
	created := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	want := record{Name: "alpha", Kind: "a", Count: 3, CreatedAt: created}
	if err := store.Set(ctx, "things/a", want); err != nil {
		t.Fatalf("set: %v", err)
	}
	snap, err := store.Get(ctx, "things/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.ID() != "a" {
		t.Fatalf("id = %q", snap.ID())
	}
	var got record
	if err := snap.DataTo(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func testSetMerge(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if err := store.Set(ctx, "things/a", map[string]any{"name": "alpha", "count": 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, "things/a", map[string]any{"kind": "b"}, storage.Merge()); err != nil {
		t.Fatalf("merge: %v", err)
	}
	snap, err := store.Get(ctx, "things/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := map[string]any{"name": "alpha", "count": float64(1), "kind": "b"}
	if diff := cmp.Diff(want, normalize(t, snap.Data)); diff != "" {
		t.Fatalf("merged mismatch (-want +got):\n%s", diff)
	}

	if err := store.Set(ctx, "things/a", map[string]any{"kind": "c"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	snap, err = store.Get(ctx, "things/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if diff := cmp.Diff(map[string]any{"kind": "c"}, normalize(t, snap.Data)); diff != "" {
		t.Fatalf("overwrite mismatch (-want +got):\n%s", diff)
	}
}

func testUpdate(t *testing.T, store storage.Store) {
	ctx := context.Background()
	err := store.Update(ctx, "things/missing", []storage.Update{{Path: "count", Value: 1}})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found on missing update, got %v", err)
	}
	if err := store.Set(ctx, "things/a", record{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Update(ctx, "things/a", []storage.Update{
		{Path: "count", Value: storage.Increment(2)},
		{Path: "name", Value: "beta"},
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got := read(t, store, "things/a")
	if got.Count != 3 || got.Name != "beta" {
		t.Fatalf("after update = %+v", got)
	}
}

func testDeleteIdempotent(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if err := store.Set(ctx, "things/a", record{Name: "alpha"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Delete(ctx, "things/a"); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	if _, err := store.Get(ctx, "things/a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
}

func testQueryLimitFractionalTimestamps(t *testing.T, store storage.Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	// Encoded as "...:00Z" and "...:00.1Z"; the second is newer but sorts first as text.
	if err := store.Set(ctx, "things/whole", record{Name: "whole", Kind: "even", CreatedAt: base}); err != nil {
		t.Fatalf("set whole: %v", err)
	}
	if err := store.Set(ctx, "things/frac", record{Name: "frac", Kind: "even", CreatedAt: base.Add(100 * time.Millisecond)}); err != nil {
		t.Fatalf("set frac: %v", err)
	}

	for _, tc := range []struct {
		descending bool
		want       string
	}{
		{descending: true, want: "frac"},
		{descending: false, want: "whole"},
	} {
		snaps, err := store.Query(ctx, storage.Query{Collection: "things", OrderBy: "createdAt", Descending: tc.descending, Limit: 1})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if len(snaps) != 1 || snaps[0].ID() != tc.want {
			t.Fatalf("descending=%v first = %v, want %s", tc.descending, snaps, tc.want)
		}
	}
}

func testQuery(t *testing.T, store storage.Store) {
	ctx := context.Background()
	base := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		kind := "even"
		if i%2 == 1 {
			kind = "odd"
		}
		path := storage.Path("things", fmt.Sprintf("t%d", i))
		if err := store.Set(ctx, path, record{Name: fmt.Sprintf("t%d", i), Kind: kind, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("set %s: %v", path, err)
		}
	}
	if err := store.Set(ctx, "things/t0/children/c1", record{Name: "child", Kind: "even"}); err != nil {
		t.Fatalf("set child: %v", err)
	}

	snaps, err := store.Query(ctx, storage.Query{
		Collection: "things",
		Filters:    []storage.Filter{{Field: "kind", Value: "even"}},
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var ids []string
	for _, snap := range snaps {
		ids = append(ids, snap.ID())
	}
	if diff := cmp.Diff([]string{"t4", "t2"}, ids); diff != "" {
		t.Fatalf("query ids mismatch (-want +got):\n%s", diff)
	}

	children, err := store.Query(ctx, storage.Query{Collection: "things/t0/children"})
	if err != nil {
		t.Fatalf("query children: %v", err)
	}
	if len(children) != 1 || children[0].ID() != "c1" {
		t.Fatalf("children = %d", len(children))
	}
}

func testTransactionCommit(t *testing.T, store storage.Store) {
	ctx := context.Background()
	if err := store.Set(ctx, "things/a", record{Name: "alpha", Count: 1}); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		snap, err := tx.Get("things/a")
		if err != nil {
			return err
		}
		var current record
		if err := snap.DataTo(&current); err != nil {
			return err
		}
		if err := tx.Update("things/a", []storage.Update{{Path: "count", Value: current.Count + 1}}); err != nil {
			return err
		}
		return tx.Set("things/b", record{Name: "beta"})
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got := read(t, store, "things/a"); got.Count != 2 {
		t.Fatalf("count = %d, want 2", got.Count)
	}
	if got := read(t, store, "things/b"); got.Name != "beta" {
		t.Fatalf("b = %+v", got)
	}
}

func testTransactionRollback(t *testing.T, store storage.Store) {
	ctx := context.Background()
	boom := errors.New("boom")
	err := store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Set("things/a", record{Name: "alpha"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if _, err := store.Get(ctx, "things/a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rolled back write is visible: %v", err)
	}
}

func testBatchAtomic(t *testing.T, store storage.Store) {
	ctx := context.Background()
	batch := store.Batch()
	batch.Set("things/a", record{Name: "alpha"})
	batch.Update("things/missing", []storage.Update{{Path: "name", Value: "x"}})
	if err := batch.Commit(ctx); err == nil {
		t.Fatal("expected batch with missing update target to fail")
	}
	if _, err := store.Get(ctx, "things/a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("partial batch write is visible: %v", err)
	}

	batch = store.Batch()
	batch.Set("things/a", record{Name: "alpha"})
	batch.Set("things/b", record{Name: "beta"})
	batch.Delete("things/a")
	if batch.Len() != 3 {
		t.Fatalf("len = %d", batch.Len())
	}
	if err := batch.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := store.Get(ctx, "things/a"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("deleted doc visible: %v", err)
	}
	if got := read(t, store, "things/b"); got.Name != "beta" {
		t.Fatalf("b = %+v", got)
	}
}

func testBatchLimit(t *testing.T, store storage.Store) {
	ctx := context.Background()
	batch := store.Batch()
	for i := 0; i <= storage.MaxBatchWrites; i++ {
		batch.Set(storage.Path("things", fmt.Sprintf("t%d", i)), record{Name: "x"})
	}
	if err := batch.Commit(ctx); err == nil {
		t.Fatal("expected over-limit batch to fail")
	}
	snaps, err := store.Query(ctx, storage.Query{Collection: "things"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(snaps) != 0 {
		t.Fatalf("over-limit batch wrote %d docs", len(snaps))
	}
}

func read(t *testing.T, store storage.Store, path string) record {
	t.Helper()
	snap, err := store.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	var out record
	if err := snap.DataTo(&out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return out
}

func normalize(t *testing.T, data map[string]any) map[string]any {
	t.Helper()
	out, err := storage.Encode(data)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	return out
}
