package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(*testing.T) storage.Store { return New() })
}

func TestTransactionsSerializeReadThenDelete(t *testing.T) {
	store := New()
	ctx := context.Background()
	if err := store.Set(ctx, "tokens/a", map[string]any{"v": "x"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
				if _, err := tx.Get("tokens/a"); err != nil {
					return err
				}
				return tx.Delete("tokens/a")
			})
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, storage.ErrNotFound):
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestTransactionRejectsReadAfterWrite(t *testing.T) {
	store := New()
	err := store.RunTransaction(context.Background(), func(ctx context.Context, tx storage.Tx) error {
		if err := tx.Set("things/a", map[string]any{"n": 1}); err != nil {
			return err
		}
		_, err := tx.Get("things/a")
		return err
	})
	if err == nil {
		t.Fatal("expected read-after-write error")
	}
}
