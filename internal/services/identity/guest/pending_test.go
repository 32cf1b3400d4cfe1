package guest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/memory"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/google/go-cmp/cmp"
)

func TestCreatePendingConversion(t *testing.T) {
	notifier := &fakeNotifier{}
	engine, store := newTestEngine(t, WithNotifier(notifier))
	seedGuest(t, store, Guest{ID: "g1", FirstName: "John", EventID: "e1"})

	got, err := engine.CreatePendingConversion(context.Background(), "g1", "  John@Example.com ")
	if err != nil {
		t.Fatalf("create pending: %v", err)
	}
	want := PendingConversion{
		Email:     "john@example.com",
		GuestID:   "g1",
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(24 * time.Hour),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("pending mismatch (-want +got):\n%s", diff)
	}

	snap, err := store.Get(context.Background(), PendingPath("john@example.com"))
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	var stored PendingConversion
	if err := snap.DataTo(&stored); err != nil {
		t.Fatalf("decode pending: %v", err)
	}
	if diff := cmp.Diff(want, stored); diff != "" {
		t.Fatalf("stored pending mismatch (-want +got):\n%s", diff)
	}

	wantInvites := []Invite{{Email: "john@example.com", FirstName: "John", GuestID: "g1", ExpiresAt: want.ExpiresAt}}
	if diff := cmp.Diff(wantInvites, notifier.invites); diff != "" {
		t.Fatalf("invites mismatch (-want +got):\n%s", diff)
	}
}

func TestCreatePendingConversionReplacesEarlierRecord(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGuest(t, store, Guest{ID: "g1", FirstName: "A", EventID: "e1"})
	seedGuest(t, store, Guest{ID: "g2", FirstName: "B", EventID: "e1"})

	if _, err := engine.CreatePendingConversion(context.Background(), "g1", "a@example.com"); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := engine.CreatePendingConversion(context.Background(), "g2", "A@example.com"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if paths := store.Paths(PendingCollection + "/"); len(paths) != 1 {
		t.Fatalf("pending records = %d, want 1", len(paths))
	}
	pending, err := engine.loadPending(context.Background(), "a@example.com")
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if pending.GuestID != "g2" {
		t.Fatalf("guest = %q, want g2", pending.GuestID)
	}
}

func TestCreatePendingConversionErrors(t *testing.T) {
	engine, store := newTestEngine(t)
	converted := testNow
	seedGuest(t, store, Guest{ID: "done", EventID: "e1", ConvertedToUserID: "u0", ConvertedAt: &converted})

	tests := []struct {
		name    string
		guestID string
		email   string
		want    error
	}{
		{name: "invalid email", guestID: "done", email: "nope", want: user.ErrInvalidEmail},
		{name: "missing guest", guestID: "missing", email: "a@example.com", want: ErrGuestNotFound},
		{name: "converted guest", guestID: "done", email: "a@example.com", want: ErrAlreadyConverted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := engine.CreatePendingConversion(context.Background(), tc.guestID, tc.email); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
	if paths := store.Paths(PendingCollection + "/"); len(paths) != 0 {
		t.Fatalf("no pending record may be written, got %v", paths)
	}
}

func TestCreatePendingConversionIgnoresNotifierFailure(t *testing.T) {
	engine, store := newTestEngine(t, WithNotifier(&fakeNotifier{err: errors.New("smtp down")}))
	seedGuest(t, store, Guest{ID: "g1", EventID: "e1"})

	if _, err := engine.CreatePendingConversion(context.Background(), "g1", "a@example.com"); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	if _, err := store.Get(context.Background(), PendingPath("a@example.com")); err != nil {
		t.Fatalf("pending record must be stored: %v", err)
	}
}

func TestCompleteGuestConversion(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGuest(t, store, Guest{ID: "g1", FirstName: "John", EventID: "e1"})
	seedEvents(t, store, "g1", 3)
	if _, err := engine.CreatePendingConversion(context.Background(), "g1", "john@example.com"); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	got, err := engine.CompleteGuestConversion(context.Background(), "JOHN@example.com", Account{UserID: "u1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if diff := cmp.Diff(Result{Success: true, MigratedEventCount: 3}, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if _, err := store.Get(context.Background(), PendingPath("john@example.com")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("pending record must be deleted, got %v", err)
	}
	if g := loadGuest(t, store, "g1"); g.ConvertedToUserID != "u1" {
		t.Fatalf("guest not converted: %+v", g)
	}
	u, err := user.Load(context.Background(), store, "u1")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if u.Email != "john@example.com" {
		t.Fatalf("email = %q, want the verified address", u.Email)
	}

	if _, err := engine.CompleteGuestConversion(context.Background(), "john@example.com", Account{UserID: "u1"}); !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("second completion: expected not found, got %v", err)
	}
}

func TestCompleteGuestConversionExpired(t *testing.T) {
	now := testNow
	store := memory.New()
	engine := NewEngine(store, WithClock(func() time.Time { return now }))
	seedGuest(t, store, Guest{ID: "g1", EventID: "e1"})
	if _, err := engine.CreatePendingConversion(context.Background(), "g1", "a@example.com"); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	now = testNow.Add(DefaultPendingTTL)
	if _, err := engine.CompleteGuestConversion(context.Background(), "a@example.com", Account{UserID: "u1"}); !errors.Is(err, ErrPendingNotFound) {
		t.Fatalf("expected not found for expired record, got %v", err)
	}
	if _, err := store.Get(context.Background(), PendingPath("a@example.com")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expired record must be swept on read, got %v", err)
	}
	if g := loadGuest(t, store, "g1"); g.Converted() {
		t.Fatal("guest must not be converted")
	}
}

func TestCompleteGuestConversionMissing(t *testing.T) {
	engine, _ := newTestEngine(t)
	for _, email := range []string{"nobody@example.com", "garbage"} {
		if _, err := engine.CompleteGuestConversion(context.Background(), email, Account{UserID: "u1"}); !errors.Is(err, ErrPendingNotFound) {
			t.Fatalf("%q: expected not found, got %v", email, err)
		}
	}
}

func TestCompleteGuestConversionReservesPendingSlot(t *testing.T) {
	inner := memory.New()
	rec := &recordingStore{Store: inner}
	engine := NewEngine(rec, WithClock(func() time.Time { return testNow }))
	seedGuest(t, inner, Guest{ID: "g1", EventID: "e1"})
	seedEvents(t, inner, "g1", 995)
	if _, err := engine.CreatePendingConversion(context.Background(), "g1", "a@example.com"); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	got, err := engine.CompleteGuestConversion(context.Background(), "a@example.com", Account{UserID: "u1"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.MigratedEventCount != 995 {
		t.Fatalf("migrated = %d, want 995", got.MigratedEventCount)
	}
	// 497 events per batch once the pending delete is reserved.
	if rec.batches != 0 || rec.txs != 3 {
		t.Fatalf("batches = %d, transactions = %d, want 0 and 3", rec.batches, rec.txs)
	}
	if paths := inner.Paths(UserEventsCollection + "/"); len(paths) != 995 {
		t.Fatalf("userEvents = %d, want 995", len(paths))
	}
}

func TestSweepPendingConversions(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	records := []PendingConversion{
		{Email: "old@example.com", GuestID: "g1", CreatedAt: testNow.Add(-48 * time.Hour), ExpiresAt: testNow.Add(-24 * time.Hour)},
		{Email: "edge@example.com", GuestID: "g2", CreatedAt: testNow.Add(-24 * time.Hour), ExpiresAt: testNow},
		{Email: "live@example.com", GuestID: "g3", CreatedAt: testNow, ExpiresAt: testNow.Add(time.Hour)},
	}
	for _, rec := range records {
		if err := store.Set(ctx, PendingPath(rec.Email), rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	removed, err := engine.SweepPendingConversions(ctx, testNow)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if diff := cmp.Diff([]string{PendingPath("live@example.com")}, store.Paths(PendingCollection+"/")); diff != "" {
		t.Fatalf("remaining mismatch (-want +got):\n%s", diff)
	}
}
