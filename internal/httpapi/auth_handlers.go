package httpapi

import (
	"errors"
	"net/http"
	"time"

	"shoplist.app/internal/audit"
	"shoplist.app/internal/auth"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
	User      auth.Identity `json:"user"`
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	session, err := a.deps.Auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			_ = audit.LogEvent(r.Context(), "auth.login.failed", map[string]any{
				"username": req.Username,
				"origin":   clientIP(r),
			})
		}
		fail(w, r, err)
		return
	}
	ctx := audit.WithActor(r.Context(), session.Identity.ID)
	_ = audit.LogEvent(ctx, "auth.login.succeeded", map[string]any{
		"username": session.Identity.Username,
		"is_admin": session.Identity.IsAdmin,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Token:     session.Token,
		ExpiresAt: session.Claims.ExpiresAtTime().UTC(),
		User:      session.Identity,
	})
}

type registerRequest struct {
	Username        string `json:"username"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		badRequest(w, r, "passwords do not match")
		return
	}
	id, err := a.deps.Auth.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		fail(w, r, err)
		return
	}
	_ = audit.LogEvent(audit.WithActor(r.Context(), id.ID), "auth.registered", map[string]any{
		"username": id.Username,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"user": id})
}

func (a *API) logout(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	token, _ := auth.TokenFromContext(r.Context())
	if err := a.deps.Auth.Logout(r.Context(), token, claims); err != nil {
		fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"message": "logged out"})
}

func (a *API) profile(w http.ResponseWriter, r *http.Request) {
	claims, _ := auth.ClaimsFromContext(r.Context())
	id, err := a.deps.Auth.Profile(r.Context(), claims.UserID)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": id})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) changePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	token, _ := auth.TokenFromContext(r.Context())
	err := a.deps.Auth.ChangePassword(r.Context(), claims, token, req.CurrentPassword, req.NewPassword)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			badRequest(w, r, "current password is incorrect")
			return
		}
		fail(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	w.WriteHeader(http.StatusNoContent)
}
