package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func decode(t *testing.T, id string) uuid.UUID {
	t.Helper()
	raw, err := encoding.DecodeString(strings.ToUpper(id))
	if err != nil {
		t.Fatalf("decode %q: %v", id, err)
	}
	value, err := uuid.FromBytes(raw)
	if err != nil {
		t.Fatalf("uuid from %q: %v", id, err)
	}
	return value
}

func TestNewIDShape(t *testing.T) {
	got, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(got) != 26 {
		t.Fatalf("len = %d, want 26", len(got))
	}
	if strings.ContainsAny(got, "=/ ") {
		t.Fatalf("id %q is not path safe", got)
	}
	if got != strings.ToLower(got) {
		t.Fatalf("id %q is not lowercase", got)
	}
	value := decode(t, got)
	if value.Version() != 4 || value.Variant() != uuid.RFC4122 {
		t.Fatalf("decoded %s is not a v4 uuid", value)
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool, 256)
	for range 256 {
		got, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if seen[got] {
			t.Fatalf("duplicate id %q", got)
		}
		seen[got] = true
	}
}
