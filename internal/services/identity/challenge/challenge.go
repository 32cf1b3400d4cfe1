package challenge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/platform/id"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/golang/glog"
)

// Collection holds outstanding challenges.
const Collection = "passkeyChallenges"

// DefaultTTL is how long an issued challenge stays claimable.
const DefaultTTL = 5 * time.Minute

// claimCandidates bounds how many same-valued challenges one claim inspects.
const claimCandidates = 10

// Type names the ceremony a challenge belongs to.
type Type string

const (
	TypeRegistration   Type = "registration"
	TypeAuthentication Type = "authentication"
)

var (
	// ErrNotFound is returned when no unexpired challenge could be claimed.
	ErrNotFound = apperrors.NotFound("challenge not found or expired")

	errClaimLost = errors.New("challenge claimed by another request")
)

// Challenge is the passkeyChallenges/{id} document.
type Challenge struct {
	ID        string `json:"-"`
	Challenge string `json:"challenge"`
	Type      Type   `json:"type"`
	UserID    string `json:"userId,omitempty"`
	// SessionJSON is the serialized ceremony state needed to verify the
	// response.
	SessionJSON string    `json:"sessionJson,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// IssueInput describes a challenge to persist.
type IssueInput struct {
	Type   Type
	UserID string
	// Value is the nonce; a random one is generated when empty.
	Value       string
	SessionJSON string
}

// Store persists challenges in the document store.
type Store struct {
	docs  storage.Store
	ttl   time.Duration
	now   func() time.Time
	newID func() (string, error)
}

// NewStore returns a challenge store. A zero ttl uses DefaultTTL.
func NewStore(docs storage.Store, ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{docs: docs, ttl: ttl, now: now, newID: id.NewID}
}

// Issue persists a new challenge expiring ttl from now.
func (s *Store) Issue(ctx context.Context, in IssueInput) (Challenge, error) {
	switch in.Type {
	case TypeRegistration:
		if strings.TrimSpace(in.UserID) == "" {
			return Challenge{}, apperrors.Validation("registration challenge requires a user")
		}
	case TypeAuthentication:
	default:
		return Challenge{}, apperrors.Validation("unknown challenge type")
	}

	value := strings.TrimSpace(in.Value)
	if value == "" {
		generated, err := protocol.CreateChallenge()
		if err != nil {
			return Challenge{}, fmt.Errorf("generate challenge: %w", err)
		}
		value = generated.String()
	}
	challengeID, err := s.newID()
	if err != nil {
		return Challenge{}, err
	}

	now := s.now().UTC()
	c := Challenge{
		ID:          challengeID,
		Challenge:   value,
		Type:        in.Type,
		UserID:      in.UserID,
		SessionJSON: in.SessionJSON,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.docs.Set(ctx, Path(c.ID), c); err != nil {
		return Challenge{}, fmt.Errorf("store challenge: %w", err)
	}
	return c, nil
}

// Claim consumes the newest unexpired challenge of typ whose nonce equals
// value. Of any number of concurrent claims for the same nonce at most one
// succeeds; the rest get ErrNotFound.
func (s *Store) Claim(ctx context.Context, typ Type, value string) (Challenge, error) {
	if strings.TrimSpace(value) == "" {
		return Challenge{}, ErrNotFound
	}
	snaps, err := s.docs.Query(ctx, storage.Query{
		Collection: Collection,
		Filters: []storage.Filter{
			{Field: "type", Value: string(typ)},
			{Field: "challenge", Value: value},
		},
		OrderBy:    "createdAt",
		Descending: true,
		Limit:      claimCandidates,
	})
	if err != nil {
		return Challenge{}, fmt.Errorf("list challenges: %w", err)
	}

	now := s.now()
	for _, snap := range snaps {
		var candidate Challenge
		if err := snap.DataTo(&candidate); err != nil {
			glog.Warningf("skipping undecodable challenge %s: %v", snap.Path, err)
			continue
		}
		candidate.ID = snap.ID()
		if !now.Before(candidate.ExpiresAt) {
			continue
		}

		err := s.docs.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
			if _, err := tx.Get(snap.Path); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return errClaimLost
				}
				return err
			}
			return tx.Delete(snap.Path)
		})
		switch {
		case err == nil:
			return candidate, nil
		case errors.Is(err, errClaimLost):
			continue
		default:
			return Challenge{}, fmt.Errorf("claim challenge: %w", err)
		}
	}
	return Challenge{}, ErrNotFound
}

// Delete removes a challenge; missing challenges are ignored.
func (s *Store) Delete(ctx context.Context, challengeID string) error {
	if strings.TrimSpace(challengeID) == "" {
		return nil
	}
	return s.docs.Delete(ctx, Path(challengeID))
}

// Sweep deletes every challenge that expired at or before now and returns
// how many were removed.
func (s *Store) Sweep(ctx context.Context, now time.Time) (int, error) {
	snaps, err := s.docs.Query(ctx, storage.Query{Collection: Collection})
	if err != nil {
		return 0, fmt.Errorf("list challenges: %w", err)
	}
	var expired []string
	for _, snap := range snaps {
		var c Challenge
		if err := snap.DataTo(&c); err != nil || !now.Before(c.ExpiresAt) {
			expired = append(expired, snap.Path)
		}
	}
	if err := storage.DeleteAll(ctx, s.docs, expired); err != nil {
		return 0, fmt.Errorf("sweep challenges: %w", err)
	}
	return len(expired), nil
}

// Path returns the document path of a challenge.
func Path(challengeID string) string {
	return storage.Path(Collection, challengeID)
}
