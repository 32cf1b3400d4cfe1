package passkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/challenge"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/session"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/golang/glog"
)

// LoginResult describes the signed-in user.
type LoginResult struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// BeginAuthentication returns discoverable assertion options; no user hint is
// needed.
func (s *Service) BeginAuthentication(ctx context.Context) (*protocol.CredentialAssertion, error) {
	ctx, span := tracer.Start(ctx, "passkey.BeginAuthentication")
	defer span.End()

	assertion, ceremony, err := s.webauthn.BeginDiscoverableLogin()
	if err != nil {
		return nil, fmt.Errorf("begin passkey login: %w", err)
	}
	state, err := encodeSessionData(ceremony)
	if err != nil {
		return nil, err
	}
	if _, err := s.challenges.Issue(ctx, challenge.IssueInput{
		Type:        challenge.TypeAuthentication,
		Value:       ceremony.Challenge,
		SessionJSON: state,
	}); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishAuthentication verifies an assertion and starts a passkey session
// from the user's stored claims. Every credential-level failure returns
// ErrAuthenticationFailed.
func (s *Service) FinishAuthentication(ctx context.Context, issuer session.Issuer, response []byte) (LoginResult, error) {
	ctx, span := tracer.Start(ctx, "passkey.FinishAuthentication")
	defer span.End()

	if len(response) == 0 {
		return LoginResult{}, ErrMalformedResponse
	}
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		glog.V(1).Infof("parse assertion: %v", err)
		return LoginResult{}, ErrMalformedResponse
	}
	if len(parsed.RawID) == 0 {
		return LoginResult{}, ErrMalformedResponse
	}
	if !s.cfg.allowsOrigin(parsed.Response.CollectedClientData.Origin) {
		return LoginResult{}, ErrOriginMismatch
	}

	credentialID := EncodeCredentialID(parsed.RawID)
	uid, stored, err := s.resolveCredential(ctx, credentialID)
	if err != nil {
		return LoginResult{}, err
	}

	claimed, err := s.challenges.Claim(ctx, challenge.TypeAuthentication, parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			return LoginResult{}, ErrAuthenticationFailed
		}
		return LoginResult{}, err
	}
	ceremony, err := decodeSessionData(claimed.SessionJSON)
	if err != nil {
		return LoginResult{}, err
	}

	account, err := user.Load(ctx, s.docs, uid)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return LoginResult{}, ErrAuthenticationFailed
		}
		return LoginResult{}, err
	}
	libCred, err := stored.webAuthn()
	if err != nil {
		return LoginResult{}, fmt.Errorf("decode passkey %s: %w", credentialID, err)
	}
	handler := func(_, userHandle []byte) (webauthn.User, error) {
		if string(userHandle) != uid {
			return nil, fmt.Errorf("user handle does not own credential")
		}
		return &webAuthnUser{user: account, credentials: []webauthn.Credential{libCred}}, nil
	}
	_, validated, err := s.webauthn.ValidatePasskeyLogin(handler, ceremony, parsed)
	if err != nil {
		glog.V(1).Infof("assertion rejected for credential=%s: %v", credentialID, err)
		return LoginResult{}, ErrAuthenticationFailed
	}

	newCounter := validated.Authenticator.SignCount
	if validated.Authenticator.CloneWarning || (newCounter != 0 && newCounter <= stored.Counter) {
		glog.Warningf("possible cloned authenticator user=%s credential=%s stored=%d presented=%d",
			uid, credentialID, stored.Counter, newCounter)
	}

	now := s.now().UTC()
	err = s.docs.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Get(CredentialPath(uid, credentialID)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrAuthenticationFailed
			}
			return err
		}
		if err := tx.Update(CredentialPath(uid, credentialID), []storage.Update{
			{Path: "counter", Value: newCounter},
			{Path: "lastUsedAt", Value: now},
			{Path: "backupState", Value: validated.Flags.BackupState},
		}); err != nil {
			return err
		}
		return tx.Update(user.Path(uid), []storage.Update{
			{Path: "lastAuthenticatedAt", Value: now},
		})
	})
	if err != nil {
		return LoginResult{}, err
	}

	if _, err := issuer.Create(ctx, session.Identity{
		UserID:      uid,
		Email:       account.Email,
		DisplayName: account.DisplayName,
		Claims:      account.SessionClaims(),
	}, session.KindPasskey); err != nil {
		return LoginResult{}, err
	}

	glog.V(1).Infof("passkey login user=%s credential=%s", uid, credentialID)
	return LoginResult{UserID: uid, Email: account.Email, DisplayName: account.DisplayName}, nil
}

// resolveCredential follows the global index to the owner's credential. An
// index entry without its credential is deleted before failing.
func (s *Service) resolveCredential(ctx context.Context, credentialID string) (string, Credential, error) {
	snap, err := s.docs.Get(ctx, IndexPath(credentialID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", Credential{}, ErrAuthenticationFailed
		}
		return "", Credential{}, fmt.Errorf("read passkey index: %w", err)
	}
	var entry IndexEntry
	if err := snap.DataTo(&entry); err != nil || entry.UserID == "" {
		glog.Warningf("unreadable passkey index %s: %v", credentialID, err)
		return "", Credential{}, ErrAuthenticationFailed
	}

	credSnap, err := s.docs.Get(ctx, CredentialPath(entry.UserID, credentialID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.pruneOrphanIndex(ctx, credentialID, entry.UserID)
			return "", Credential{}, ErrAuthenticationFailed
		}
		return "", Credential{}, fmt.Errorf("read passkey: %w", err)
	}
	var cred Credential
	if err := credSnap.DataTo(&cred); err != nil {
		return "", Credential{}, err
	}
	cred.ID = credentialID
	return entry.UserID, cred, nil
}

func (s *Service) pruneOrphanIndex(ctx context.Context, credentialID, uid string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.docs.Delete(ctx, IndexPath(credentialID)); err != nil {
		glog.Warningf("prune orphaned passkey index %s (user %s): %v", credentialID, uid, err)
		return
	}
	glog.Warningf("pruned orphaned passkey index %s (user %s)", credentialID, uid)
}
