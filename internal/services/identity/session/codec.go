package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"golang.org/x/crypto/hkdf"
)

// MinSecretLength is the shortest accepted session secret.
const MinSecretLength = 32

const (
	hashKeyInfo  = "live-session/hash/v1"
	blockKeyInfo = "live-session/block/v1"

	// securecookie signs with HMAC-SHA256 and encrypts with AES-256.
	hashKeyLength  = 64
	blockKeyLength = 32
)

// Keys stored in the cookie session values.
const (
	valueUserID            = "userId"
	valueEmail             = "email"
	valueDisplayName       = "displayName"
	valueEnv               = "env"
	valueKind              = "kind"
	valueCreatedAt         = "createdAt"
	valueExpiresAt         = "expiresAt"
	valueAdmin             = "claims.admin"
	valueSignedConsentForm = "claims.signedConsentForm"
	valueProfileComplete   = "claims.profileComplete"
	valueIsMinor           = "claims.isMinor"
	valuePasskeyEnabled    = "claims.passkeyEnabled"
)

var errNoExpiry = errors.New("session has no expiry")

// deriveKeys splits one secret into the cookie signing and encryption keys.
func deriveKeys(secret string) (hashKey, blockKey []byte, err error) {
	if len(secret) < MinSecretLength {
		return nil, nil, fmt.Errorf("session secret must be at least %d bytes", MinSecretLength)
	}
	if hashKey, err = deriveKey(secret, hashKeyInfo, hashKeyLength); err != nil {
		return nil, nil, err
	}
	if blockKey, err = deriveKey(secret, blockKeyInfo, blockKeyLength); err != nil {
		return nil, nil, err
	}
	return hashKey, blockKey, nil
}

func deriveKey(secret, info string, size int) ([]byte, error) {
	key := make([]byte, size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive session key: %w", err)
	}
	return key, nil
}

// encodeValues flattens s into gob-friendly session values.
func encodeValues(s Session, values map[any]any) {
	values[valueUserID] = s.UserID
	values[valueEmail] = s.Email
	values[valueDisplayName] = s.DisplayName
	values[valueEnv] = s.Env
	values[valueKind] = string(s.Kind)
	values[valueCreatedAt] = s.CreatedAt.UnixMilli()
	values[valueExpiresAt] = s.ExpiresAt.Unix()
	values[valueAdmin] = s.Claims.Admin
	values[valueSignedConsentForm] = s.Claims.SignedConsentForm
	values[valueProfileComplete] = s.Claims.ProfileComplete
	values[valueIsMinor] = s.Claims.IsMinor
	values[valuePasskeyEnabled] = s.Claims.PasskeyEnabled
}

// decodeValues rebuilds a session from decoded cookie values.
func decodeValues(values map[any]any) (Session, error) {
	expires, ok := values[valueExpiresAt].(int64)
	if !ok {
		return Session{}, errNoExpiry
	}
	created, _ := values[valueCreatedAt].(int64)
	kind, _ := values[valueKind].(string)
	return Session{
		UserID:      stringValue(values, valueUserID),
		Email:       stringValue(values, valueEmail),
		DisplayName: stringValue(values, valueDisplayName),
		Claims: user.Claims{
			Admin:             boolValue(values, valueAdmin),
			SignedConsentForm: boolValue(values, valueSignedConsentForm),
			ProfileComplete:   boolValue(values, valueProfileComplete),
			IsMinor:           boolValue(values, valueIsMinor),
			PasskeyEnabled:    boolValue(values, valuePasskeyEnabled),
		},
		Env:       stringValue(values, valueEnv),
		Kind:      Kind(kind),
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.Unix(expires, 0).UTC(),
	}, nil
}

func stringValue(values map[any]any, key string) string {
	v, _ := values[key].(string)
	return v
}

func boolValue(values map[any]any, key string) bool {
	v, _ := values[key].(bool)
	return v
}
