package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	apperrors "github.com/Natural-Highs/live-sub000/internal/platform/errors"
	"github.com/Natural-Highs/live-sub000/internal/platform/httpx"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/guest"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/passkey"
	"github.com/Natural-Highs/live-sub000/internal/services/identity/profile"
	"github.com/gorilla/mux"
)

type ceremonyRequest struct {
	Response   json.RawMessage `json:"response"`
	DeviceInfo string          `json:"deviceInfo,omitempty"`
}

type pendingRequest struct {
	Email string `json:"email"`
}

type profileRequest struct {
	profile.ProfileFields
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

type demographicsRequest struct {
	profile.DemographicsFields
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	_ = httpx.WriteJSON(w, http.StatusOK, currentSession(r))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.deps.Sessions.Destroy(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	options, err := s.deps.Passkeys.BeginRegistration(r.Context(), currentSession(r))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, options)
}

func (s *Server) handleRegisterVerify(w http.ResponseWriter, r *http.Request) {
	var req ceremonyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	result, err := s.deps.Passkeys.FinishRegistration(r.Context(), currentSession(r), s.deps.Sessions.For(w, r), passkey.RegistrationInput{
		Response:   req.Response,
		DeviceInfo: req.DeviceInfo,
	})
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusCreated, result)
}

func (s *Server) handleLoginOptions(w http.ResponseWriter, r *http.Request) {
	options, err := s.deps.Passkeys.BeginAuthentication(r.Context())
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, options)
}

func (s *Server) handleLoginVerify(w http.ResponseWriter, r *http.Request) {
	var req ceremonyRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	result, err := s.deps.Passkeys.FinishAuthentication(r.Context(), s.deps.Sessions.For(w, r), req.Response)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleListPasskeys(w http.ResponseWriter, r *http.Request) {
	creds, err := s.deps.Passkeys.ListCredentials(r.Context(), currentSession(r).UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"passkeys": creds})
}

func (s *Server) handleDeletePasskey(w http.ResponseWriter, r *http.Request) {
	current := currentSession(r)
	if err := s.deps.Passkeys.DeleteCredential(r.Context(), current.UserID, mux.Vars(r)["credentialID"]); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.refreshSession(w, r, current)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	current := currentSession(r)
	result, err := s.deps.Guests.ConvertSameSession(r.Context(), mux.Vars(r)["guestID"], accountOf(current.UserID, current.Email, current.DisplayName))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.refreshSession(w, r, current)
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreatePending(w http.ResponseWriter, r *http.Request) {
	var req pendingRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	pending, err := s.deps.Guests.CreatePendingConversion(r.Context(), mux.Vars(r)["guestID"], req.Email)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"expiresAt": pending.ExpiresAt})
}

func (s *Server) handleCompleteConversion(w http.ResponseWriter, r *http.Request) {
	current := currentSession(r)
	if strings.TrimSpace(current.Email) == "" {
		httpx.WriteError(w, r, apperrors.Validation("session has no verified email"))
		return
	}
	result, err := s.deps.Guests.CompleteGuestConversion(r.Context(), current.Email, accountOf(current.UserID, current.Email, current.DisplayName))
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	s.refreshSession(w, r, current)
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Profiles.Get(r.Context(), currentSession(r).UserID)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, p)
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

type historyEntry struct {
	ID string `json:"id"`
	profile.HistoryRecord
}

func (s *Server) handleProfileHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			httpx.WriteError(w, r, apperrors.Validation("limit must be between 1 and 100"))
			return
		}
		limit = n
	}
	records, err := s.deps.Profiles.History(r.Context(), currentSession(r).UserID, limit)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	entries := make([]historyEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, historyEntry{ID: rec.ID, HistoryRecord: rec})
	}
	_ = httpx.WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	current := currentSession(r)
	result, err := s.deps.Profiles.UpdateProfile(r.Context(), current.UserID, req.ProfileFields, req.ExpectedVersion)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	if len(result.UpdatedFields) > 0 {
		s.refreshSession(w, r, current)
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdateDemographics(w http.ResponseWriter, r *http.Request) {
	var req demographicsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	result, err := s.deps.Profiles.UpdateDemographics(r.Context(), currentSession(r).UserID, req.DemographicsFields, req.ExpectedVersion)
	if err != nil {
		httpx.WriteError(w, r, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, result)
}

func accountOf(uid, email, displayName string) guest.Account {
	return guest.Account{UserID: uid, Email: email, DisplayName: displayName}
}
