package session

import (
	"context"
	"time"

	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
)

// Kind distinguishes how a session was established.
type Kind string

const (
	KindStandard Kind = "standard"
	KindPasskey  Kind = "passkey"
)

// Identity is what a caller supplies to start a session.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	Claims      user.Claims
}

// Session is a validated session.
type Session struct {
	UserID      string      `json:"userId"`
	Email       string      `json:"email,omitempty"`
	DisplayName string      `json:"displayName,omitempty"`
	Claims      user.Claims `json:"claims"`
	Env         string      `json:"env"`
	Kind        Kind        `json:"kind"`
	CreatedAt   time.Time   `json:"sessionCreatedAt"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

// Issuer starts sessions for the request it is bound to.
type Issuer interface {
	Create(ctx context.Context, identity Identity, kind Kind) (Session, error)
}
