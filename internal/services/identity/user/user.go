package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Collection holds one document per account.
const Collection = "users"

var (
	// ErrNotFound indicates the account document is missing.
	ErrNotFound = apperrors.NotFound("user not found")
	// ErrInvalidEmail indicates an email that is not a bare address.
	ErrInvalidEmail = apperrors.Validation("email address is invalid")

	emailLower = cases.Lower(language.Und)
)

// Claims are the authorization flags copied into every session.
type Claims struct {
	Admin             bool `json:"admin"`
	SignedConsentForm bool `json:"signedConsentForm"`
	ProfileComplete   bool `json:"profileComplete"`
	IsMinor           bool `json:"isMinor"`
	PasskeyEnabled    bool `json:"passkeyEnabled"`
}

// User is the users/{uid} document.
type User struct {
	ID                   string     `json:"-"`
	Email                string     `json:"email,omitempty"`
	DisplayName          string     `json:"displayName,omitempty"`
	FirstName            string     `json:"firstName,omitempty"`
	LastName             string     `json:"lastName,omitempty"`
	Phone                string     `json:"phone,omitempty"`
	DateOfBirth          string     `json:"dateOfBirth,omitempty"`
	IsMinor              bool       `json:"isMinor"`
	ProfileComplete      bool       `json:"profileComplete"`
	ProfileVersion       int64      `json:"profileVersion"`
	PasskeyCount         int64      `json:"passkeyCount"`
	Claims               Claims     `json:"claims"`
	ConvertedFromGuestID string     `json:"convertedFromGuestId,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	LastAuthenticatedAt  *time.Time `json:"lastAuthenticatedAt,omitempty"`
}

// Getter reads documents.
type Getter interface {
	Get(ctx context.Context, path string) (*storage.Snapshot, error)
}

// Path returns the document path of an account.
func Path(uid string) string {
	return storage.Path(Collection, uid)
}

// Load reads an account, mapping a missing document to ErrNotFound.
func Load(ctx context.Context, store Getter, uid string) (User, error) {
	if strings.TrimSpace(uid) == "" {
		return User{}, ErrNotFound
	}
	snap, err := store.Get(ctx, Path(uid))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("load user %s: %w", uid, err)
	}
	return FromSnapshot(snap)
}

// FromSnapshot decodes an account document.
func FromSnapshot(snap *storage.Snapshot) (User, error) {
	var u User
	if err := snap.DataTo(&u); err != nil {
		return User{}, err
	}
	u.ID = snap.ID()
	return u, nil
}

// SessionClaims returns the claims a new session should carry. Profile
// flags are read from their top-level fields, which profile edits maintain.
func (u User) SessionClaims() Claims {
	claims := u.Claims
	claims.ProfileComplete = u.ProfileComplete
	claims.IsMinor = u.IsMinor
	claims.PasskeyEnabled = claims.PasskeyEnabled || u.PasskeyCount > 0
	return claims
}

// NormalizeEmail trims and lowercases an address and rejects anything that
// is not a bare addr-spec. Addresses key documents, so a path separator is
// rejected too.
func NormalizeEmail(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(trimmed)
	if err != nil || parsed.Address != trimmed || strings.Contains(trimmed, "/") {
		return "", ErrInvalidEmail
	}
	return emailLower.String(trimmed), nil
}
