package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"tessera.org/internal/audit"
	"tessera.org/internal/auth"
)

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (a *API) handleToken(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if !readJSON(w, r, &req) {
		return
	}
	token, err := a.svc.Authn.Authenticate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.issue", map[string]any{
		"email_address": req.EmailAddress,
		"source_page":   req.SourcePage,
	})
	writeJSON(w, http.StatusOK, token)
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !readJSON(w, r, &req) {
		return
	}
	token, err := a.svc.Authn.RefreshAccessToken(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (a *API) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := a.svc.Authn.InvalidateTokens(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.token.invalidate", nil)
	writeSuccess(w)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req auth.PasswordForgotRequest
	if !readJSON(w, r, &req) {
		return
	}
	if err := a.svc.Passwords.ForgotPassword(r.Context(), req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w)
}

func (a *API) handlePasswordValidity(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.Passwords.CheckPasswordChangingValidity(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeSuccess(w)
}

func (a *API) handleCreatePassword(w http.ResponseWriter, r *http.Request) {
	var req auth.PasswordCreateRequest
	if !readJSON(w, r, &req) {
		return
	}
	passwordID := chi.URLParam(r, "id")
	if err := a.svc.Passwords.CreatePassword(r.Context(), passwordID, req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.create", map[string]any{"password_id": passwordID})
	writeSuccess(w)
}
