package passkey

import (
	"encoding/base64"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/storage"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

const (
	// IndexCollection maps credential ids to their owners.
	IndexCollection = "passkeyCredentials"
	// credentialsSubcollection holds a user's credentials.
	credentialsSubcollection = "passkeys"
)

// Credential is the users/{uid}/passkeys/{credentialId} document.
type Credential struct {
	ID              string     `json:"-"`
	PublicKey       []byte     `json:"publicKey"`
	Counter         uint32     `json:"counter"`
	Transports      []string   `json:"transports,omitempty"`
	AttestationType string     `json:"attestationType,omitempty"`
	AAGUID          string     `json:"aaguid,omitempty"`
	DeviceInfo      string     `json:"deviceInfo,omitempty"`
	UserPresent     bool       `json:"userPresent"`
	UserVerified    bool       `json:"userVerified"`
	BackupEligible  bool       `json:"backupEligible"`
	BackupState     bool       `json:"backupState"`
	CreatedAt       time.Time  `json:"createdAt"`
	LastUsedAt      *time.Time `json:"lastUsedAt,omitempty"`
}

// IndexEntry is the passkeyCredentials/{credentialId} document.
type IndexEntry struct {
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// CredentialPath returns the path of a user's credential.
func CredentialPath(uid, credentialID string) string {
	return storage.Path(user.Collection, uid, credentialsSubcollection, credentialID)
}

// CredentialsCollection returns the collection of a user's credentials.
func CredentialsCollection(uid string) string {
	return storage.Path(user.Collection, uid, credentialsSubcollection)
}

// IndexPath returns the global index path of a credential.
func IndexPath(credentialID string) string {
	return storage.Path(IndexCollection, credentialID)
}

// EncodeCredentialID renders a raw credential id as unpadded base64url.
func EncodeCredentialID(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

func newCredential(cred *webauthn.Credential, deviceInfo string, now time.Time) Credential {
	transports := make([]string, 0, len(cred.Transport))
	for _, transport := range cred.Transport {
		transports = append(transports, string(transport))
	}
	return Credential{
		ID:              EncodeCredentialID(cred.ID),
		PublicKey:       cred.PublicKey,
		Counter:         cred.Authenticator.SignCount,
		Transports:      transports,
		AttestationType: cred.AttestationType,
		AAGUID:          formatAAGUID(cred.Authenticator.AAGUID),
		DeviceInfo:      deviceInfo,
		UserPresent:     cred.Flags.UserPresent,
		UserVerified:    cred.Flags.UserVerified,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
		CreatedAt:       now,
	}
}

// webAuthn rebuilds the library credential used for assertion checks.
func (c Credential) webAuthn() (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(c.ID)
	if err != nil {
		return webauthn.Credential{}, err
	}
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, transport := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(transport))
	}
	var aaguid []byte
	if parsed, err := uuid.Parse(c.AAGUID); err == nil {
		aaguid = parsed[:]
	}
	return webauthn.Credential{
		ID:              rawID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    c.UserPresent,
			UserVerified:   c.UserVerified,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    aaguid,
			SignCount: c.Counter,
		},
	}, nil
}

func formatAAGUID(raw []byte) string {
	parsed, err := uuid.FromBytes(raw)
	if err != nil {
		return ""
	}
	return parsed.String()
}

// webAuthnUser adapts an account and its credentials to the library.
type webAuthnUser struct {
	user        user.User
	credentials []webauthn.Credential
}

func (u *webAuthnUser) WebAuthnID() []byte {
	return []byte(u.user.ID)
}

func (u *webAuthnUser) WebAuthnName() string {
	if u.user.Email != "" {
		return u.user.Email
	}
	return u.user.ID
}

func (u *webAuthnUser) WebAuthnDisplayName() string {
	if u.user.DisplayName != "" {
		return u.user.DisplayName
	}
	return u.WebAuthnName()
}

func (u *webAuthnUser) WebAuthnIcon() string {
	return ""
}

func (u *webAuthnUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
