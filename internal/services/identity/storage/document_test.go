package storage

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeNormalizesStructs(t *testing.T) {
	type doc struct {
		Name    string    `json:"name"`
		Count   int       `json:"count"`
		Created time.Time `json:"createdAt"`
	}
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	got, err := Encode(doc{Name: "a", Count: 3, Created: created})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := map[string]any{"name": "a", "count": float64(3), "createdAt": "2026-03-01T09:30:00Z"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("encode mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyUpdatesHandlesNestedPathsAndTransforms(t *testing.T) {
	data := map[string]any{"passkeyCount": float64(1), "claims": map[string]any{"admin": false}, "gender": "woman"}
	updates, err := EncodeUpdates([]Update{
		{Path: "passkeyCount", Value: Increment(1)},
		{Path: "claims.passkeyEnabled", Value: true},
		{Path: "lastSeen", Value: Increment(2)},
		{Path: "gender", Value: DeleteField()},
		{Path: "city", Value: DeleteField()},
	})
	if err != nil {
		t.Fatalf("encode updates: %v", err)
	}
	if err := ApplyUpdates(data, updates); err != nil {
		t.Fatalf("apply: %v", err)
	}
	want := map[string]any{
		"passkeyCount": float64(2),
		"claims":       map[string]any{"admin": false, "passkeyEnabled": true},
		"lastSeen":     float64(2),
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Fatalf("apply mismatch (-want +got):\n%s", diff)
	}
}

func TestApplyUpdatesRejectsIncrementOnString(t *testing.T) {
	data := map[string]any{"name": "x"}
	if err := ApplyUpdates(data, []Update{{Path: "name", Value: Increment(1)}}); err == nil {
		t.Fatal("expected error for non-numeric increment")
	}
}

func TestMergeIntoKeepsUntouchedFields(t *testing.T) {
	dst := map[string]any{"email": "a@b.c", "claims": map[string]any{"admin": true}}
	MergeInto(dst, map[string]any{"displayName": "A", "claims": map[string]any{"isMinor": false}})
	want := map[string]any{
		"email":       "a@b.c",
		"displayName": "A",
		"claims":      map[string]any{"admin": true, "isMinor": false},
	}
	if diff := cmp.Diff(want, dst); diff != "" {
		t.Fatalf("merge mismatch (-want +got):\n%s", diff)
	}
}

func TestSortSnapshotsOrdersTimestampsChronologically(t *testing.T) {
	// RFC 3339 with trimmed fractional seconds does not sort lexically.
	snaps := []*Snapshot{
		{Path: "c/a", Data: map[string]any{"createdAt": "2026-01-01T00:00:00.5Z"}},
		{Path: "c/b", Data: map[string]any{"createdAt": "2026-01-01T00:00:00.25Z"}},
		{Path: "c/c", Data: map[string]any{"createdAt": "2026-01-01T00:00:01Z"}},
	}
	SortSnapshots(snaps, "createdAt", true)
	got := []string{snaps[0].ID(), snaps[1].ID(), snaps[2].ID()}
	if diff := cmp.Diff([]string{"c", "a", "b"}, got); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestOrderAndLimitAppliesLimitAfterChronologicalSort(t *testing.T) {
	// Lexically "00:00:00Z" sorts after "00:00:00.1Z", chronologically before.
	snaps := []*Snapshot{
		{Path: "c/whole", Data: map[string]any{"createdAt": "2026-01-01T00:00:00Z"}},
		{Path: "c/frac", Data: map[string]any{"createdAt": "2026-01-01T00:00:00.1Z"}},
	}
	got := OrderAndLimit(snaps, Query{Collection: "c", OrderBy: "createdAt", Descending: true, Limit: 1})
	if len(got) != 1 || got[0].ID() != "frac" {
		t.Fatalf("newest = %v, want frac", got)
	}

	snaps = []*Snapshot{snaps[1], snaps[0]}
	got = OrderAndLimit(snaps, Query{Collection: "c", OrderBy: "createdAt", Limit: 1})
	if len(got) != 1 || got[0].ID() != "whole" {
		t.Fatalf("oldest = %v, want whole", got)
	}
}

func TestMatchesUsesEncodedEquality(t *testing.T) {
	data := map[string]any{"type": "registration", "attempts": float64(2)}
	if !Matches(data, []Filter{{Field: "type", Value: "registration"}, {Field: "attempts", Value: float64(2)}}) {
		t.Fatal("expected match")
	}
	if Matches(data, []Filter{{Field: "missing", Value: "x"}}) {
		t.Fatal("missing field must not match")
	}
}

func TestWritesKeepsFirstEncodingError(t *testing.T) {
	var w Writes
	w.Set("c/a", map[string]any{"bad": make(chan int)})
	w.Delete("c/b")
	if _, err := w.Ops(); err == nil {
		t.Fatal("expected encoding error")
	}
}

func TestCheckBatchSize(t *testing.T) {
	if err := CheckBatchSize(MaxBatchWrites); err != nil {
		t.Fatalf("limit should be allowed: %v", err)
	}
	if err := CheckBatchSize(MaxBatchWrites + 1); err == nil {
		t.Fatal("expected error over limit")
	}
}

func TestSplitPath(t *testing.T) {
	collection, id := SplitPath(Path("users", "u1", "passkeys", "c1"))
	if collection != "users/u1/passkeys" || id != "c1" {
		t.Fatalf("split = %q %q", collection, id)
	}
}
