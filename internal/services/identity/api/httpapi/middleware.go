package httpapi

import (
	"context"
	"net/http"

	"github.com/Natural-Highs/live-sub000/internal/platform/httpx"
	"github.com/Natural-Highs/live-sub000/internal/platform/requestctx"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/session"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/golang/glog"
)

type sessionKey struct{}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current, err := s.deps.Sessions.Validate(r)
		if err != nil {
			httpx.WriteError(w, r, err)
			return
		}
		ctx := requestctx.WithUserID(r.Context(), current.UserID)
		ctx = context.WithValue(ctx, sessionKey{}, current)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentSession(r *http.Request) session.Session {
	current, _ := r.Context().Value(sessionKey{}).(session.Session)
	return current
}

// refreshSession reissues the caller's session with claims read from the
// account. Failure leaves the old session in place.
func (s *Server) refreshSession(w http.ResponseWriter, r *http.Request, current session.Session) {
	if s.deps.Accounts == nil {
		return
	}
	u, err := user.Load(r.Context(), s.deps.Accounts, current.UserID)
	if err != nil {
		glog.Warningf("refresh session for %s: %v", current.UserID, err)
		return
	}
	email := u.Email
	if email == "" {
		email = current.Email
	}
	identity := session.Identity{
		UserID:      current.UserID,
		Email:       email,
		DisplayName: u.DisplayName,
		Claims:      u.SessionClaims(),
	}
	if _, err := s.deps.Sessions.For(w, r).Create(r.Context(), identity, current.Kind); err != nil {
		glog.Warningf("refresh session for %s: %v", current.UserID, err)
	}
}
