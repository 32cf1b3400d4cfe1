package passkey

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
)

// DefaultDisplayName is the relying party name shown by authenticators when
// none is configured.
const DefaultDisplayName = "Live Check-in"

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"LIVE_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"LIVE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"LIVE_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"LIVE_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// Normalize fills defaults and trims values.
func (c Config) Normalize() Config {
	c.RPID = strings.TrimSpace(c.RPID)
	if c.RPID == "" {
		c.RPID = "localhost"
	}
	c.RPDisplayName = strings.TrimSpace(c.RPDisplayName)
	if c.RPDisplayName == "" {
		c.RPDisplayName = DefaultDisplayName
	}
	origins := make([]string, 0, len(c.RPOrigins))
	for _, origin := range c.RPOrigins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:8080"}
	}
	c.RPOrigins = origins
	if c.ChallengeTTL <= 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	return c
}

// Validate rejects origins that cannot belong to the relying party id.
func (c Config) Validate() error {
	for _, origin := range c.RPOrigins {
		parsed, err := url.Parse(origin)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("invalid relying party origin %q", origin)
		}
		host := parsed.Hostname()
		if host != c.RPID && !strings.HasSuffix(host, "."+c.RPID) {
			return fmt.Errorf("origin %q is not within relying party %q", origin, c.RPID)
		}
	}
	return nil
}

// NewWebAuthn builds the relying party from cfg.
func NewWebAuthn(cfg Config) (*webauthn.WebAuthn, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	w, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("init webauthn: %w", err)
	}
	return w, nil
}

func (c Config) allowsOrigin(origin string) bool {
	origin = strings.TrimRight(strings.TrimSpace(origin), "/")
	for _, allowed := range c.RPOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
