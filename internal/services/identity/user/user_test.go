package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage/memory"
)

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{raw: "  Alice@Example.COM ", want: "alice@example.com", ok: true},
		{raw: "bob@example.com", want: "bob@example.com", ok: true},
		{raw: "", ok: false},
		{raw: "not-an-email", ok: false},
		{raw: "Alice <alice@example.com>", ok: false},
		{raw: "a/b@example.com", ok: false},
	}
	for _, tc := range tests {
		got, err := NormalizeEmail(tc.raw)
		if tc.ok {
			if err != nil {
				t.Fatalf("NormalizeEmail(%q) error = %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("NormalizeEmail(%q) = %q, want %q", tc.raw, got, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidEmail) {
			t.Fatalf("NormalizeEmail(%q) error = %v, want invalid email", tc.raw, err)
		}
	}
}

func TestLoadMissingUser(t *testing.T) {
	store := memory.New()
	if _, err := Load(context.Background(), store, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := Load(context.Background(), store, " "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for blank id, got %v", err)
	}
}

func TestLoadRoundTrip(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := store.Set(ctx, Path("u1"), User{Email: "a@b.c", DisplayName: "A", ProfileVersion: 4, CreatedAt: created}); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := Load(ctx, store, "u1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ID != "u1" || got.ProfileVersion != 4 || !got.CreatedAt.Equal(created) {
		t.Fatalf("loaded = %+v", got)
	}
}

func TestSessionClaimsUsesProfileFlags(t *testing.T) {
	u := User{
		IsMinor:         true,
		ProfileComplete: true,
		PasskeyCount:    1,
		Claims:          Claims{Admin: true, ProfileComplete: false},
	}
	claims := u.SessionClaims()
	if !claims.Admin || !claims.IsMinor || !claims.ProfileComplete || !claims.PasskeyEnabled {
		t.Fatalf("claims = %+v", claims)
	}
}
