package session

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/sessions"
)

var errNoCookie = errors.New("no session cookie")

// CookieStore keeps the session in a signed and encrypted cookie.
type CookieStore struct {
	name                string
	trustForwardedProto bool
	store               *sessions.CookieStore
}

// NewCookieStore derives the cookie keys from secret. Cookies older than
// maxAge are rejected while decoding, whatever expiry they carry.
func NewCookieStore(name, secret string, maxAge time.Duration, trustForwardedProto bool) (*CookieStore, error) {
	hashKey, blockKey, err := deriveKeys(secret)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultCookieName
	}
	store := sessions.NewCookieStore(hashKey, blockKey)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	store.MaxAge(int(maxAge / time.Second))
	return &CookieStore{name: name, trustForwardedProto: trustForwardedProto, store: store}, nil
}

// Load decodes the request's session cookie.
func (c *CookieStore) Load(r *http.Request) (Session, error) {
	if r == nil {
		return Session{}, errNoCookie
	}
	sess, err := c.store.New(r, c.name)
	if err != nil {
		return Session{}, fmt.Errorf("decode session cookie: %w", err)
	}
	if sess.IsNew {
		return Session{}, errNoCookie
	}
	return decodeValues(sess.Values)
}

// Save writes s with a cookie lifetime matching its expiry.
func (c *CookieStore) Save(w http.ResponseWriter, r *http.Request, s Session) error {
	if w == nil {
		return nil
	}
	sess := sessions.NewSession(c.store, c.name)
	sess.Options = c.options(r, int(s.ExpiresAt.Sub(s.CreatedAt)/time.Second))
	encodeValues(s, sess.Values)
	if err := c.store.Save(r, w, sess); err != nil {
		return fmt.Errorf("write session cookie: %w", err)
	}
	return nil
}

// Clear expires the cookie.
func (c *CookieStore) Clear(w http.ResponseWriter, r *http.Request) {
	if w == nil {
		return
	}
	sess := sessions.NewSession(c.store, c.name)
	sess.Options = c.options(r, -1)
	if err := c.store.Save(r, w, sess); err != nil {
		glog.Warningf("clear session cookie: %v", err)
	}
}

func (c *CookieStore) options(r *http.Request, maxAge int) *sessions.Options {
	opts := *c.store.Options
	opts.MaxAge = maxAge
	opts.Secure = c.isHTTPS(r)
	return &opts
}

func (c *CookieStore) isHTTPS(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if c.trustForwardedProto {
		proto := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0])
		return strings.EqualFold(proto, "https")
	}
	return false
}
