package passkey

import (
	"context"
	"errors"
	"strings"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/golang/glog"
)

// ErrCredentialNotFound reports a credential the caller does not own.
var ErrCredentialNotFound = apperrors.NotFound("passkey not found")

// CredentialSummary is the caller-visible view of a credential.
type CredentialSummary struct {
	ID         string     `json:"id"`
	DeviceInfo string     `json:"deviceInfo,omitempty"`
	AAGUID     string     `json:"aaguid,omitempty"`
	Transports []string   `json:"transports,omitempty"`
	Synced     bool       `json:"synced"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

// ListCredentials returns the user's passkeys, oldest first.
func (s *Service) ListCredentials(ctx context.Context, uid string) ([]CredentialSummary, error) {
	stored, err := s.listCredentials(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]CredentialSummary, 0, len(stored))
	for _, cred := range stored {
		out = append(out, CredentialSummary{
			ID:         cred.ID,
			DeviceInfo: cred.DeviceInfo,
			AAGUID:     cred.AAGUID,
			Transports: cred.Transports,
			Synced:     cred.BackupState,
			CreatedAt:  cred.CreatedAt,
			LastUsedAt: cred.LastUsedAt,
		})
	}
	return out, nil
}

// DeleteCredential removes one of the user's passkeys together with its index
// entry and decrements the user's passkey count.
func (s *Service) DeleteCredential(ctx context.Context, uid, credentialID string) error {
	ctx, span := tracer.Start(ctx, "passkey.DeleteCredential")
	defer span.End()

	credentialID = strings.TrimSpace(credentialID)
	if credentialID == "" {
		return apperrors.Validation("credential id is required")
	}
	err := s.docs.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Get(CredentialPath(uid, credentialID)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrCredentialNotFound
			}
			return err
		}
		userSnap, err := tx.Get(user.Path(uid))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return user.ErrNotFound
			}
			return err
		}
		account, err := user.FromSnapshot(userSnap)
		if err != nil {
			return err
		}
		ownsIndex := false
		if indexSnap, err := tx.Get(IndexPath(credentialID)); err == nil {
			var entry IndexEntry
			ownsIndex = indexSnap.DataTo(&entry) == nil && entry.UserID == uid
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		if err := tx.Delete(CredentialPath(uid, credentialID)); err != nil {
			return err
		}
		if ownsIndex {
			if err := tx.Delete(IndexPath(credentialID)); err != nil {
				return err
			}
		}
		updates := []storage.Update{{Path: "passkeyCount", Value: storage.Increment(-1)}}
		if account.PasskeyCount <= 1 {
			updates = append(updates, storage.Update{Path: "claims.passkeyEnabled", Value: false})
		}
		return tx.Update(user.Path(uid), updates)
	})
	if err != nil {
		return err
	}
	glog.Infof("passkey deleted user=%s credential=%s", uid, credentialID)
	return nil
}
