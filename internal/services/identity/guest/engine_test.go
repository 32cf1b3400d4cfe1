package guest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/memory"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/google/go-cmp/cmp"
)

var testNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// recordingStore counts committed batches, transactions and writes.
type recordingStore struct {
	storage.Store

	mu       sync.Mutex
	batches  int
	txs      int
	writes   int
	attempts int
	// beforeTx runs ahead of every transaction with its 1-based attempt
	// number; an error aborts that transaction before it reads anything.
	beforeTx func(attempt int) error
}

func (s *recordingStore) Set(ctx context.Context, path string, data any, opts ...storage.SetOption) error {
	s.count(1)
	return s.Store.Set(ctx, path, data, opts...)
}

func (s *recordingStore) Update(ctx context.Context, path string, updates []storage.Update) error {
	s.count(1)
	return s.Store.Update(ctx, path, updates)
}

func (s *recordingStore) Delete(ctx context.Context, path string) error {
	s.count(1)
	return s.Store.Delete(ctx, path)
}

func (s *recordingStore) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	s.attempts++
	attempt, hook := s.attempts, s.beforeTx
	s.mu.Unlock()
	if hook != nil {
		if err := hook(attempt); err != nil {
			return err
		}
	}
	err := s.Store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, &recordingTx{Tx: tx, store: s})
	})
	if err == nil {
		s.mu.Lock()
		s.txs++
		s.mu.Unlock()
	}
	return err
}

func (s *recordingStore) Batch() storage.Batch {
	return &recordingBatch{Batch: s.Store.Batch(), store: s}
}

func (s *recordingStore) count(n int) {
	s.mu.Lock()
	s.writes += n
	s.mu.Unlock()
}

type recordingTx struct {
	storage.Tx
	store *recordingStore
}

func (t *recordingTx) Set(path string, data any, opts ...storage.SetOption) error {
	t.store.count(1)
	return t.Tx.Set(path, data, opts...)
}

func (t *recordingTx) Update(path string, updates []storage.Update) error {
	t.store.count(1)
	return t.Tx.Update(path, updates)
}

func (t *recordingTx) Delete(path string) error {
	t.store.count(1)
	return t.Tx.Delete(path)
}

type recordingBatch struct {
	storage.Batch
	store *recordingStore
}

func (b *recordingBatch) Commit(ctx context.Context) error {
	if err := b.Batch.Commit(ctx); err != nil {
		return err
	}
	b.store.mu.Lock()
	b.store.batches++
	b.store.writes += b.Len()
	b.store.mu.Unlock()
	return nil
}

type fakeNotifier struct {
	invites []Invite
	err     error
}

func (f *fakeNotifier) SendConversionInvite(_ context.Context, invite Invite) error {
	f.invites = append(f.invites, invite)
	return f.err
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewEngine(store, opts...), store
}

func seedGuest(t *testing.T, store storage.Store, g Guest) {
	t.Helper()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = testNow.Add(-time.Hour)
	}
	if err := store.Set(context.Background(), Path(g.ID), g); err != nil {
		t.Fatalf("seed guest: %v", err)
	}
}

func seedEvents(t *testing.T, store storage.Store, guestID string, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := Event{
			ID:           fmt.Sprintf("%s-ev-%04d", guestID, i),
			GuestID:      guestID,
			EventID:      fmt.Sprintf("event-%d", i%7),
			RegisteredAt: testNow.Add(-time.Duration(n-i) * time.Minute).Add(123 * time.Millisecond),
			CreatedAt:    testNow.Add(-time.Duration(n-i) * time.Minute),
		}
		if err := store.Set(context.Background(), storage.Path(EventsCollection, ev.ID), ev); err != nil {
			t.Fatalf("seed event: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func loadGuest(t *testing.T, store storage.Store, guestID string) Guest {
	t.Helper()
	snap, err := store.Get(context.Background(), Path(guestID))
	if err != nil {
		t.Fatalf("load guest: %v", err)
	}
	var g Guest
	if err := snap.DataTo(&g); err != nil {
		t.Fatalf("decode guest: %v", err)
	}
	return g
}

func TestConvertSameSessionWithoutEvents(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGuest(t, store, Guest{ID: "g1", FirstName: "John", LastName: "Doe", EventID: "e1", ConsentSignature: "John Doe"})

	got, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1", Email: "john@example.com"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if diff := cmp.Diff(Result{Success: true, MigratedEventCount: 0}, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}

	u, err := user.Load(context.Background(), store, "u1")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if u.FirstName != "John" || u.DisplayName != "John Doe" || u.Email != "john@example.com" {
		t.Fatalf("unexpected user fields: %+v", u)
	}
	if u.ConvertedFromGuestID != "g1" || !u.Claims.SignedConsentForm {
		t.Fatalf("expected conversion link and consent claim, got %+v", u)
	}

	g := loadGuest(t, store, "g1")
	if g.ConvertedToUserID != "u1" || g.ConvertedAt == nil || !g.ConvertedAt.Equal(testNow) {
		t.Fatalf("expected guest marked converted, got %+v", g)
	}
}

func TestConvertSameSessionPreservesEvents(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGuest(t, store, Guest{ID: "g1", FirstName: "Ana", EventID: "e1"})
	events := seedEvents(t, store, "g1", 5)
	seedGuest(t, store, Guest{ID: "g2", FirstName: "Other", EventID: "e1"})
	seedEvents(t, store, "g2", 2)

	got, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.MigratedEventCount != 5 {
		t.Fatalf("migrated = %d, want 5", got.MigratedEventCount)
	}
	if paths := store.Paths(UserEventsCollection + "/"); len(paths) != 5 {
		t.Fatalf("userEvents = %d, want 5", len(paths))
	}

	for _, ev := range events {
		snap, err := store.Get(context.Background(), UserEventPath(ev.ID))
		if err != nil {
			t.Fatalf("load migrated %s: %v", ev.ID, err)
		}
		var migrated struct {
			UserID                   string    `json:"userId"`
			GuestID                  string    `json:"guestId"`
			EventID                  string    `json:"eventId"`
			RegisteredAt             time.Time `json:"registeredAt"`
			CreatedAt                time.Time `json:"createdAt"`
			MigratedFromGuestEventID string    `json:"migratedFromGuestEventId"`
		}
		if err := snap.DataTo(&migrated); err != nil {
			t.Fatalf("decode migrated: %v", err)
		}
		if migrated.UserID != "u1" || migrated.GuestID != "" || migrated.EventID != ev.EventID {
			t.Fatalf("unexpected migrated ownership: %+v", migrated)
		}
		if migrated.MigratedFromGuestEventID != ev.ID {
			t.Fatalf("migratedFromGuestEventId = %q, want %q", migrated.MigratedFromGuestEventID, ev.ID)
		}
		if !migrated.RegisteredAt.Equal(ev.RegisteredAt) || !migrated.CreatedAt.Equal(ev.CreatedAt) {
			t.Fatalf("timestamps changed: got %v/%v want %v/%v", migrated.RegisteredAt, migrated.CreatedAt, ev.RegisteredAt, ev.CreatedAt)
		}
	}

	if _, err := store.Get(context.Background(), storage.Path(EventsCollection, events[0].ID)); err != nil {
		t.Fatalf("guest events must be kept: %v", err)
	}
	if g := loadGuest(t, store, "g2"); g.Converted() {
		t.Fatal("unrelated guest was converted")
	}
}

func TestConvertSameSessionSplitsLargeHistory(t *testing.T) {
	inner := memory.New()
	rec := &recordingStore{Store: inner}
	engine := NewEngine(rec, WithClock(func() time.Time { return testNow }))
	seedGuest(t, inner, Guest{ID: "g1", FirstName: "Big", EventID: "e1"})
	seedEvents(t, inner, "g1", 600)

	got, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.MigratedEventCount != 600 {
		t.Fatalf("migrated = %d, want 600", got.MigratedEventCount)
	}
	if rec.batches != 0 || rec.txs != 2 {
		t.Fatalf("batches = %d, transactions = %d, want 0 and 2", rec.batches, rec.txs)
	}
	// 498 events + account + claim, then 102 events + marker.
	if rec.writes != 603 {
		t.Fatalf("writes = %d, want 603", rec.writes)
	}
	if paths := inner.Paths(UserEventsCollection + "/"); len(paths) != 600 {
		t.Fatalf("userEvents = %d, want 600", len(paths))
	}
}

func TestConvertSameSessionInterruptedAfterFirstBatch(t *testing.T) {
	inner := memory.New()
	rec := &recordingStore{Store: inner, beforeTx: func(attempt int) error {
		if attempt > 1 {
			return errors.New("connection reset")
		}
		return nil
	}}
	engine := NewEngine(rec, WithClock(func() time.Time { return testNow }))
	seedGuest(t, inner, Guest{ID: "g1", FirstName: "Big", EventID: "e1"})
	seedEvents(t, inner, "g1", 600)

	if _, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1"}); err == nil {
		t.Fatal("expected interrupted conversion to fail")
	}
	if _, err := user.Load(context.Background(), inner, "u1"); err != nil {
		t.Fatalf("user document must exist after the first batch: %v", err)
	}
	if paths := inner.Paths(UserEventsCollection + "/"); len(paths) != storage.MaxBatchWrites-sameSessionFixedOps {
		t.Fatalf("userEvents = %d, want %d", len(paths), storage.MaxBatchWrites-sameSessionFixedOps)
	}
	g := loadGuest(t, inner, "g1")
	if g.Converted() {
		t.Fatal("guest must stay unconverted until the last batch commits")
	}
	if g.ConversionClaimedBy != "u1" {
		t.Fatalf("claim = %q, want u1", g.ConversionClaimedBy)
	}

	rec.beforeTx = nil
	other := NewEngine(inner, WithClock(func() time.Time { return testNow.Add(time.Minute) }))
	if _, err := other.ConvertSameSession(context.Background(), "g1", Account{UserID: "u2"}); !isError(err, ErrConversionInProgress) {
		t.Fatalf("expected conversion in progress, got %v", err)
	}

	got, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1"})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got.MigratedEventCount != 600 {
		t.Fatalf("migrated = %d, want 600", got.MigratedEventCount)
	}
	if paths := inner.Paths(UserEventsCollection + "/"); len(paths) != 600 {
		t.Fatalf("userEvents after retry = %d, want 600", len(paths))
	}
	if g := loadGuest(t, inner, "g1"); g.ConvertedToUserID != "u1" {
		t.Fatalf("expected guest converted after retry, got %+v", g)
	}
}

func TestConvertSameSessionAlreadyConverted(t *testing.T) {
	inner := memory.New()
	rec := &recordingStore{Store: inner}
	engine := NewEngine(rec, WithClock(func() time.Time { return testNow }))
	convertedAt := testNow.Add(-time.Hour)
	seedGuest(t, inner, Guest{ID: "g1", FirstName: "Ana", EventID: "e1", ConvertedToUserID: "u0", ConvertedAt: &convertedAt})
	seedEvents(t, inner, "g1", 3)

	_, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1"})
	if !errors.Is(err, ErrAlreadyConverted) || apperrors.GetCode(err) != apperrors.CodeConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
	if rec.writes != 0 || rec.batches != 0 {
		t.Fatalf("expected zero writes, got writes=%d batches=%d", rec.writes, rec.batches)
	}
	if len(inner.Paths(user.Collection+"/")) != 0 {
		t.Fatal("no user document may be written")
	}
}

func TestConvertSameSessionErrors(t *testing.T) {
	engine, _ := newTestEngine(t)
	if _, err := engine.ConvertSameSession(context.Background(), "missing", Account{UserID: "u1"}); !errors.Is(err, ErrGuestNotFound) {
		t.Fatalf("expected guest not found, got %v", err)
	}
	if _, err := engine.ConvertSameSession(context.Background(), "g1", Account{}); apperrors.GetCode(err) != apperrors.CodeValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestConvertSameSessionKeepsExistingAccount(t *testing.T) {
	engine, store := newTestEngine(t)
	existing := user.User{
		Email:        "ana@example.com",
		DisplayName:  "Ana Existing",
		PasskeyCount: 2,
		Claims:       user.Claims{Admin: true, PasskeyEnabled: true},
		CreatedAt:    testNow.Add(-48 * time.Hour),
	}
	if err := store.Set(context.Background(), user.Path("u1"), existing); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	seedGuest(t, store, Guest{ID: "g1", FirstName: "Ana", LastName: "Guest", EventID: "e1", ConsentSignature: "Ana"})

	if _, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1", DisplayName: "ignored"}); err != nil {
		t.Fatalf("convert: %v", err)
	}
	u, err := user.Load(context.Background(), store, "u1")
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	want := user.Claims{Admin: true, PasskeyEnabled: true, SignedConsentForm: true}
	if diff := cmp.Diff(want, u.Claims); diff != "" {
		t.Fatalf("claims mismatch (-want +got):\n%s", diff)
	}
	if u.DisplayName != "Ana Existing" || u.PasskeyCount != 2 || u.ConvertedFromGuestID != "g1" {
		t.Fatalf("existing fields must survive conversion, got %+v", u)
	}
	if !u.CreatedAt.Equal(existing.CreatedAt) {
		t.Fatalf("createdAt = %v, want %v", u.CreatedAt, existing.CreatedAt)
	}
}

func TestConcurrentConversionsConvertOnce(t *testing.T) {
	engine, store := newTestEngine(t)
	seedGuest(t, store, Guest{ID: "g1", FirstName: "Ana", EventID: "e1"})
	seedEvents(t, store, "g1", 4)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		winner    string
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(uid string) {
			defer wg.Done()
			_, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: uid})
			switch {
			case err == nil:
				mu.Lock()
				successes++
				winner = uid
				mu.Unlock()
			case errors.Is(err, ErrAlreadyConverted):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes = %d, want 1", successes)
	}
	if g := loadGuest(t, store, "g1"); g.ConvertedToUserID != winner {
		t.Fatalf("guest converted to %q, want %q", g.ConvertedToUserID, winner)
	}
}

func isError(err error, want *apperrors.Error) bool {
	var got *apperrors.Error
	return errors.As(err, &got) && got.Code == want.Code && got.Message == want.Message
}

// eventOwners counts migrated events per userId.
func eventOwners(t *testing.T, store *memory.Store) map[string]int {
	t.Helper()
	owners := map[string]int{}
	for _, path := range store.Paths(UserEventsCollection + "/") {
		snap, err := store.Get(context.Background(), path)
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		var ev struct {
			UserID string `json:"userId"`
		}
		if err := snap.DataTo(&ev); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		owners[ev.UserID]++
	}
	return owners
}

func assertNoUser(t *testing.T, store storage.Store, uid string) {
	t.Helper()
	if _, err := store.Get(context.Background(), user.Path(uid)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("user %s must not be written, got %v", uid, err)
	}
}

func TestLateConversionStopsAtFirstBatch(t *testing.T) {
	inner := memory.New()
	seedGuest(t, inner, Guest{ID: "g1", FirstName: "Big", EventID: "e1"})
	seedEvents(t, inner, "g1", 600)
	clock := WithClock(func() time.Time { return testNow })

	reached, release := make(chan struct{}), make(chan struct{})
	late := NewEngine(&recordingStore{Store: inner, beforeTx: func(attempt int) error {
		if attempt == 1 {
			close(reached)
			<-release
		}
		return nil
	}}, clock)
	done := make(chan error, 1)
	go func() {
		_, err := late.ConvertSameSession(context.Background(), "g1", Account{UserID: "uB"})
		done <- err
	}()

	<-reached
	if _, err := NewEngine(inner, clock).ConvertSameSession(context.Background(), "g1", Account{UserID: "uA"}); err != nil {
		t.Fatalf("first conversion: %v", err)
	}
	close(release)

	if err := <-done; !isError(err, ErrAlreadyConverted) {
		t.Fatalf("late conversion: expected already converted, got %v", err)
	}
	if diff := cmp.Diff(map[string]int{"uA": 600}, eventOwners(t, inner)); diff != "" {
		t.Fatalf("event owners mismatch (-want +got):\n%s", diff)
	}
	if g := loadGuest(t, inner, "g1"); g.ConvertedToUserID != "uA" {
		t.Fatalf("guest converted to %q, want uA", g.ConvertedToUserID)
	}
	assertNoUser(t, inner, "uB")
}

func TestConversionBlockedWhileAnotherIsMidway(t *testing.T) {
	inner := memory.New()
	seedGuest(t, inner, Guest{ID: "g1", FirstName: "Big", EventID: "e1"})
	seedEvents(t, inner, "g1", 600)
	clock := WithClock(func() time.Time { return testNow })

	reached, release := make(chan struct{}), make(chan struct{})
	first := NewEngine(&recordingStore{Store: inner, beforeTx: func(attempt int) error {
		if attempt == 2 {
			close(reached)
			<-release
		}
		return nil
	}}, clock)
	done := make(chan error, 1)
	go func() {
		_, err := first.ConvertSameSession(context.Background(), "g1", Account{UserID: "uA"})
		done <- err
	}()

	<-reached
	_, err := NewEngine(inner, clock).ConvertSameSession(context.Background(), "g1", Account{UserID: "uB"})
	close(release)
	if !isError(err, ErrConversionInProgress) {
		t.Fatalf("second conversion: expected in progress, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("first conversion: %v", err)
	}
	if diff := cmp.Diff(map[string]int{"uA": 600}, eventOwners(t, inner)); diff != "" {
		t.Fatalf("event owners mismatch (-want +got):\n%s", diff)
	}
	assertNoUser(t, inner, "uB")
}

func TestConversionClaimLease(t *testing.T) {
	tests := []struct {
		name      string
		claimedAt time.Time
		wantErr   *apperrors.Error
	}{
		{name: "live claim", claimedAt: testNow.Add(-time.Minute), wantErr: ErrConversionInProgress},
		{name: "stale claim", claimedAt: testNow.Add(-ConversionLease - time.Second)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inner := memory.New()
			rec := &recordingStore{Store: inner}
			engine := NewEngine(rec, WithClock(func() time.Time { return testNow }))
			claimedAt := tc.claimedAt
			seedGuest(t, inner, Guest{ID: "g1", EventID: "e1", ConversionClaimedBy: "u0", ConversionClaimedAt: &claimedAt})
			seedEvents(t, inner, "g1", 3)

			_, err := engine.ConvertSameSession(context.Background(), "g1", Account{UserID: "u1"})
			if tc.wantErr != nil {
				if !isError(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if rec.writes != 0 {
					t.Fatalf("writes = %d, want 0", rec.writes)
				}
				return
			}
			if err != nil {
				t.Fatalf("convert: %v", err)
			}
			if diff := cmp.Diff(map[string]int{"u1": 3}, eventOwners(t, inner)); diff != "" {
				t.Fatalf("event owners mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
