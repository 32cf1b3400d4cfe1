// Package httpapi exposes the identity flows as a JSON HTTP API.
package httpapi

import (
	"context"
	"net/http"

	"github.com/Natural-Highs/live-sub000/internal/platform/httpx"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/guest"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/passkey"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/profile"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/session"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/user"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gorilla/mux"
)

// Sessions validates and issues request sessions.
type Sessions interface {
	Validate(r *http.Request) (session.Session, error)
	Destroy(w http.ResponseWriter, r *http.Request)
	For(w http.ResponseWriter, r *http.Request) session.Issuer
}

// Passkeys runs passkey ceremonies.
type Passkeys interface {
	BeginRegistration(ctx context.Context, current session.Session) (*protocol.CredentialCreation, error)
	FinishRegistration(ctx context.Context, current session.Session, issuer session.Issuer, in passkey.RegistrationInput) (passkey.RegistrationResult, error)
	BeginAuthentication(ctx context.Context) (*protocol.CredentialAssertion, error)
	FinishAuthentication(ctx context.Context, issuer session.Issuer, response []byte) (passkey.LoginResult, error)
	ListCredentials(ctx context.Context, uid string) ([]passkey.CredentialSummary, error)
	DeleteCredential(ctx context.Context, uid, credentialID string) error
}

// Guests converts guest check-ins.
type Guests interface {
	ConvertSameSession(ctx context.Context, guestID string, acct guest.Account) (guest.Result, error)
	CreatePendingConversion(ctx context.Context, guestID, email string) (guest.PendingConversion, error)
	CompleteGuestConversion(ctx context.Context, email string, acct guest.Account) (guest.Result, error)
}

// Profiles reads and edits profiles.
type Profiles interface {
	Get(ctx context.Context, uid string) (profile.Profile, error)
	History(ctx context.Context, uid string, limit int) ([]profile.HistoryRecord, error)
	UpdateProfile(ctx context.Context, uid string, fields profile.ProfileFields, expectedVersion *int64) (profile.Result, error)
	UpdateDemographics(ctx context.Context, uid string, fields profile.DemographicsFields, expectedVersion *int64) (profile.Result, error)
}

// Deps are the collaborators the API serves.
type Deps struct {
	Sessions Sessions
	Passkeys Passkeys
	Guests   Guests
	Profiles Profiles
	// Accounts is read to refresh session claims after edits that change
	// them. When nil, sessions keep their claims until the next login.
	Accounts user.Getter
}

// Server routes API requests.
type Server struct {
	deps Deps
}

// New returns an API server.
func New(deps Deps) *Server {
	return &Server{deps: deps}
}

// Handler returns the routed API wrapped in the standard middleware.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusNotFound, httpx.ErrorBody{Error: "route not found", Code: "NOT_FOUND"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = httpx.WriteJSON(w, http.StatusMethodNotAllowed, httpx.ErrorBody{Error: "method not allowed", Code: "METHOD_NOT_ALLOWED"})
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/passkeys/login/options", s.handleLoginOptions).Methods(http.MethodPost)
	api.HandleFunc("/passkeys/login/verify", s.handleLoginVerify).Methods(http.MethodPost)
	api.HandleFunc("/guests/{guestID}/pending-conversion", s.handleCreatePending).Methods(http.MethodPost)
	api.HandleFunc("/session", s.handleLogout).Methods(http.MethodDelete)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/session", s.handleSession).Methods(http.MethodGet)
	authed.HandleFunc("/passkeys/register/options", s.handleRegisterOptions).Methods(http.MethodPost)
	authed.HandleFunc("/passkeys/register/verify", s.handleRegisterVerify).Methods(http.MethodPost)
	authed.HandleFunc("/passkeys", s.handleListPasskeys).Methods(http.MethodGet)
	authed.HandleFunc("/passkeys/{credentialID}", s.handleDeletePasskey).Methods(http.MethodDelete)
	authed.HandleFunc("/guests/{guestID}/convert", s.handleConvert).Methods(http.MethodPost)
	authed.HandleFunc("/conversions/complete", s.handleCompleteConversion).Methods(http.MethodPost)
	authed.HandleFunc("/profile", s.handleGetProfile).Methods(http.MethodGet)
	authed.HandleFunc("/profile", s.handleUpdateProfile).Methods(http.MethodPatch)
	authed.HandleFunc("/profile/history", s.handleProfileHistory).Methods(http.MethodGet)
	authed.HandleFunc("/profile/demographics", s.handleUpdateDemographics).Methods(http.MethodPatch)

	return httpx.Chain(r, httpx.RequestID(), httpx.RecoverPanic())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
