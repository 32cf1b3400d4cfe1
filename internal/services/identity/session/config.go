package session

import (
	"time"
)

// DefaultCookieName is used when no cookie name is configured.
const DefaultCookieName = "live_session"

// Config controls session issuance.
type Config struct {
	Env                 string        `env:"LIVE_ENV"                         envDefault:"development"`
	Secret              string        `env:"LIVE_SESSION_SECRET"`
	TTL                 time.Duration `env:"LIVE_SESSION_TTL"                 envDefault:"168h"`
	PasskeyTTL          time.Duration `env:"LIVE_SESSION_PASSKEY_TTL"         envDefault:"4320h"`
	CookieName          string        `env:"LIVE_SESSION_COOKIE"              envDefault:"live_session"`
	TrustForwardedProto bool          `env:"LIVE_SESSION_TRUST_FORWARDED_PROTO"`
}

// Lifetime returns the token lifetime for a session kind.
func (c Config) Lifetime(kind Kind) time.Duration {
	if kind == KindPasskey && c.PasskeyTTL > 0 {
		return c.PasskeyTTL
	}
	if c.TTL > 0 {
		return c.TTL
	}
	return 7 * 24 * time.Hour
}
