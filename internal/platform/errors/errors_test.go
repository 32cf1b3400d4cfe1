package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetCodeWalksWrappedChain(t *testing.T) {
	base := Conflict("profile version mismatch")
	wrapped := fmt.Errorf("update profile: %w", base)

	if got := GetCode(wrapped); got != CodeConflict {
		t.Fatalf("GetCode() = %q, want %q", got, CodeConflict)
	}
	if got := GetCode(stderrors.New("plain")); got != CodeUnknown {
		t.Fatalf("GetCode(plain) = %q, want %q", got, CodeUnknown)
	}
	if got := GetCode(nil); got != CodeUnknown {
		t.Fatalf("GetCode(nil) = %q, want %q", got, CodeUnknown)
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound("guest not found"))
	if !stderrors.Is(err, NotFound("anything")) {
		t.Fatal("expected errors.Is to match by code")
	}
	if stderrors.Is(err, Conflict("anything")) {
		t.Fatal("expected different codes not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := Wrap(CodeUnknown, "store failed", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Validation("bad"), http.StatusBadRequest},
		{Authentication("no"), http.StatusUnauthorized},
		{NotFound("gone"), http.StatusNotFound},
		{Conflict("stale"), http.StatusConflict},
		{stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
