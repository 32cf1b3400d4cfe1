package passkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	platformotel "github.com/Natural-Highs/live-sub000/internal/platform/otel"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/challenge"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

var tracer = platformotel.Tracer("identity/passkey")

var (
	// ErrAuthenticationFailed is the only failure the login path reports, so
	// an unknown credential looks the same as a bad signature.
	ErrAuthenticationFailed = apperrors.Authentication("passkey authentication failed")
	// ErrVerificationFailed reports a registration response that did not
	// verify against the relying party.
	ErrVerificationFailed = apperrors.Validation("passkey verification failed")
	// ErrMalformedResponse reports a ceremony response that could not be
	// parsed.
	ErrMalformedResponse = apperrors.Validation("credential response is malformed")
	// ErrOriginMismatch reports a response produced for another origin.
	ErrOriginMismatch = apperrors.Validation("credential response origin is not allowed")
)

type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service runs passkey ceremonies against the document store.
type Service struct {
	docs       storage.Store
	challenges *challenge.Store
	webauthn   provider
	parser     parser
	cfg        Config
	now        func() time.Time
}

// NewService builds a passkey service for cfg.
func NewService(docs storage.Store, challenges *challenge.Store, cfg Config, now func() time.Time) (*Service, error) {
	cfg = cfg.Normalize()
	w, err := NewWebAuthn(cfg)
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		docs:       docs,
		challenges: challenges,
		webauthn:   w,
		parser:     defaultParser{},
		cfg:        cfg,
		now:        now,
	}, nil
}

// listCredentials returns a user's stored credentials.
func (s *Service) listCredentials(ctx context.Context, uid string) ([]Credential, error) {
	snaps, err := s.docs.Query(ctx, storage.Query{
		Collection: CredentialsCollection(uid),
		OrderBy:    "createdAt",
	})
	if err != nil {
		return nil, fmt.Errorf("list passkeys: %w", err)
	}
	out := make([]Credential, 0, len(snaps))
	for _, snap := range snaps {
		var cred Credential
		if err := snap.DataTo(&cred); err != nil {
			return nil, err
		}
		cred.ID = snap.ID()
		out = append(out, cred)
	}
	return out, nil
}

func (s *Service) loadWebAuthnUser(ctx context.Context, uid string) (*webAuthnUser, error) {
	account, err := user.Load(ctx, s.docs, uid)
	if err != nil {
		return nil, err
	}
	stored, err := s.listCredentials(ctx, uid)
	if err != nil {
		return nil, err
	}
	credentials := make([]webauthn.Credential, 0, len(stored))
	for _, cred := range stored {
		converted, err := cred.webAuthn()
		if err != nil {
			return nil, fmt.Errorf("decode passkey %s: %w", cred.ID, err)
		}
		credentials = append(credentials, converted)
	}
	return &webAuthnUser{user: account, credentials: credentials}, nil
}

func encodeSessionData(session *webauthn.SessionData) (string, error) {
	if session == nil {
		return "", fmt.Errorf("session data is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return "", fmt.Errorf("encode ceremony state: %w", err)
	}
	return string(payload), nil
}

func decodeSessionData(raw string) (webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return webauthn.SessionData{}, fmt.Errorf("decode ceremony state: %w", err)
	}
	return session, nil
}
