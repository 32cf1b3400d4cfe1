package passkey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/challenge"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/session"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/golang/glog"
)

// ErrAlreadyRegistered reports an authenticator that is already enrolled.
var ErrAlreadyRegistered = apperrors.Conflict("passkey is already registered")

// RegistrationInput is a signed-in user's attestation response.
type RegistrationInput struct {
	Response   []byte
	DeviceInfo string
}

// RegistrationResult identifies the stored credential.
type RegistrationResult struct {
	CredentialID string `json:"credentialId"`
}

// BeginRegistration returns creation options for the signed-in user,
// excluding authenticators they already enrolled.
func (s *Service) BeginRegistration(ctx context.Context, current session.Session) (*protocol.CredentialCreation, error) {
	ctx, span := tracer.Start(ctx, "passkey.BeginRegistration")
	defer span.End()

	wu, err := s.loadWebAuthnUser(ctx, current.UserID)
	if err != nil {
		return nil, err
	}
	options := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementRequired),
	}
	if len(wu.credentials) > 0 {
		options = append(options, webauthn.WithExclusions(webauthn.Credentials(wu.credentials).CredentialDescriptors()))
	}

	creation, ceremony, err := s.webauthn.BeginRegistration(wu, options...)
	if err != nil {
		return nil, fmt.Errorf("begin passkey registration: %w", err)
	}
	state, err := encodeSessionData(ceremony)
	if err != nil {
		return nil, err
	}
	if _, err := s.challenges.Issue(ctx, challenge.IssueInput{
		Type:        challenge.TypeRegistration,
		UserID:      current.UserID,
		Value:       ceremony.Challenge,
		SessionJSON: state,
	}); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration verifies an attestation, stores the credential with its
// index entry, and upgrades the caller to a passkey session.
func (s *Service) FinishRegistration(ctx context.Context, current session.Session, issuer session.Issuer, in RegistrationInput) (RegistrationResult, error) {
	ctx, span := tracer.Start(ctx, "passkey.FinishRegistration")
	defer span.End()

	if len(in.Response) == 0 {
		return RegistrationResult{}, ErrMalformedResponse
	}
	parsed, err := s.parser.ParseCredentialCreationResponseBytes(in.Response)
	if err != nil {
		glog.V(1).Infof("parse attestation for user=%s: %v", current.UserID, err)
		return RegistrationResult{}, ErrMalformedResponse
	}
	if !s.cfg.allowsOrigin(parsed.Response.CollectedClientData.Origin) {
		return RegistrationResult{}, ErrOriginMismatch
	}

	claimed, err := s.challenges.Claim(ctx, challenge.TypeRegistration, parsed.Response.CollectedClientData.Challenge)
	if err != nil {
		if errors.Is(err, challenge.ErrNotFound) {
			return RegistrationResult{}, ErrAuthenticationFailed
		}
		return RegistrationResult{}, err
	}
	if claimed.UserID != current.UserID {
		glog.Warningf("registration challenge %s issued to %s presented by %s", claimed.ID, claimed.UserID, current.UserID)
		return RegistrationResult{}, ErrAuthenticationFailed
	}
	ceremony, err := decodeSessionData(claimed.SessionJSON)
	if err != nil {
		return RegistrationResult{}, err
	}

	wu, err := s.loadWebAuthnUser(ctx, current.UserID)
	if err != nil {
		return RegistrationResult{}, err
	}
	created, err := s.webauthn.CreateCredential(wu, ceremony, parsed)
	if err != nil {
		glog.V(1).Infof("attestation rejected for user=%s: %v", current.UserID, err)
		return RegistrationResult{}, ErrVerificationFailed
	}

	now := s.now().UTC()
	cred := newCredential(created, strings.TrimSpace(in.DeviceInfo), now)
	err = s.docs.RunTransaction(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := tx.Get(user.Path(current.UserID)); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return user.ErrNotFound
			}
			return err
		}
		if _, err := tx.Get(CredentialPath(current.UserID, cred.ID)); err == nil {
			return ErrAlreadyRegistered
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err := tx.Set(CredentialPath(current.UserID, cred.ID), cred); err != nil {
			return err
		}
		if err := tx.Set(IndexPath(cred.ID), IndexEntry{UserID: current.UserID, CreatedAt: now}); err != nil {
			return err
		}
		return tx.Update(user.Path(current.UserID), []storage.Update{
			{Path: "passkeyCount", Value: storage.Increment(1)},
			{Path: "claims.passkeyEnabled", Value: true},
		})
	})
	if err != nil {
		return RegistrationResult{}, err
	}

	// Best effort: Claim already consumed the challenge.
	if err := s.challenges.Delete(ctx, claimed.ID); err != nil {
		glog.Warningf("cleanup registration challenge %s: %v", claimed.ID, err)
	}

	claims := wu.user.SessionClaims()
	claims.PasskeyEnabled = true
	if _, err := issuer.Create(ctx, session.Identity{
		UserID:      current.UserID,
		Email:       wu.user.Email,
		DisplayName: wu.user.DisplayName,
		Claims:      claims,
	}, session.KindPasskey); err != nil {
		return RegistrationResult{}, err
	}

	glog.Infof("passkey registered user=%s credential=%s", current.UserID, cred.ID)
	return RegistrationResult{CredentialID: cred.ID}, nil
}
