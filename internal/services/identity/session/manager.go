package session

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/golang/glog"
)

// ErrUnauthenticated is returned for every rejected session. The message is
// shared so callers cannot tell why a session failed.
var ErrUnauthenticated = apperrors.Authentication("authentication required")

// Manager creates, validates and destroys sessions.
type Manager struct {
	cfg     Config
	cookies *CookieStore
	now     func() time.Time
}

// NewManager builds a manager from cfg.
func NewManager(cfg Config, now func() time.Time) (*Manager, error) {
	if now == nil {
		now = time.Now
	}
	maxAge := max(cfg.Lifetime(KindStandard), cfg.Lifetime(KindPasskey))
	cookies, err := NewCookieStore(cfg.CookieName, cfg.Secret, maxAge, cfg.TrustForwardedProto)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "development"
	}
	return &Manager{cfg: cfg, cookies: cookies, now: now}, nil
}

// Env reports the environment sessions are bound to.
func (m *Manager) Env() string {
	return m.cfg.Env
}

// Create clears any existing session cookie and then writes a new one. The
// two writes are separate; if two logins race, the last write wins.
func (m *Manager) Create(w http.ResponseWriter, r *http.Request, identity Identity, kind Kind) (Session, error) {
	if strings.TrimSpace(identity.UserID) == "" {
		return Session{}, apperrors.Validation("user id is required")
	}
	if kind == "" {
		kind = KindStandard
	}

	m.cookies.Clear(w, r)

	created := m.now().UTC().Truncate(time.Millisecond)
	s := Session{
		UserID:      identity.UserID,
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		Claims:      identity.Claims,
		Env:         m.cfg.Env,
		Kind:        kind,
		CreatedAt:   created,
		ExpiresAt:   created.Add(m.cfg.Lifetime(kind)).Truncate(time.Second),
	}
	if err := m.cookies.Save(w, r, s); err != nil {
		return Session{}, err
	}
	glog.V(1).Infof("session created user=%s kind=%s", s.UserID, s.Kind)
	return s, nil
}

// Validate returns the request's session or ErrUnauthenticated.
func (m *Manager) Validate(r *http.Request) (Session, error) {
	s, err := m.cookies.Load(r)
	if errors.Is(err, errNoCookie) {
		return Session{}, ErrUnauthenticated
	}
	if err != nil {
		glog.V(1).Infof("session rejected: %v", err)
		return Session{}, ErrUnauthenticated
	}
	if !m.now().Before(s.ExpiresAt) {
		glog.V(1).Infof("session rejected: expired at %s", s.ExpiresAt.Format(time.RFC3339))
		return Session{}, ErrUnauthenticated
	}
	if s.Env != m.cfg.Env {
		glog.Warningf("session rejected: issued for env %q, running in %q", s.Env, m.cfg.Env)
		return Session{}, ErrUnauthenticated
	}
	if strings.TrimSpace(s.UserID) == "" {
		return Session{}, ErrUnauthenticated
	}
	return s, nil
}

// Destroy clears the session cookie.
func (m *Manager) Destroy(w http.ResponseWriter, r *http.Request) {
	m.cookies.Clear(w, r)
}

// For binds the manager to one request so flows can start sessions without
// touching HTTP types.
func (m *Manager) For(w http.ResponseWriter, r *http.Request) Issuer {
	return requestIssuer{manager: m, w: w, r: r}
}

type requestIssuer struct {
	manager *Manager
	w       http.ResponseWriter
	r       *http.Request
}

func (i requestIssuer) Create(_ context.Context, identity Identity, kind Kind) (Session, error) {
	return i.manager.Create(i.w, i.r, identity, kind)
}
