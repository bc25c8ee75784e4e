// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package accounts implements registration, login and vault lock handlers.
package accounts

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/auth"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// RegisterRequest is the body of POST /api/auth/register.
type RegisterRequest struct {
	Username    string `json:"username" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password" validate:"required"`
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UnlockRequest is the body of POST /api/auth/unlock.
type UnlockRequest struct {
	Password string `json:"password" validate:"required"`
}

// SessionView describes the caller's session.
type SessionView struct {
	ExpiresAt        time.Time `json:"expires_at"`
	Locked           bool      `json:"locked"`
	LockAfterSeconds int64     `json:"lock_after_seconds"`
}

// LoginResponse is returned by login and register.
type LoginResponse struct {
	Token   string         `json:"token"`
	User    *identity.User `json:"user"`
	Session SessionView    `json:"session"`
}

// MeResponse is returned by GET /api/auth/me.
type MeResponse struct {
	User    *identity.User `json:"user"`
	Session *SessionView   `json:"session,omitempty"`
}

// Handler serves the /api/auth endpoints.
type Handler struct {
	accounts    *identity.Accounts
	currentUser func(context.Context) (*identity.User, error)
	log         *slog.Logger
}

// NewHandler creates the accounts handler.
func NewHandler(accounts *identity.Accounts, currentUser func(context.Context) (*identity.User, error), log *slog.Logger) *Handler {
	return &Handler{accounts: accounts, currentUser: currentUser, log: logutil.NoopIfNil(log)}
}

// HandleRegister handles POST /api/auth/register and signs the new user in.
func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	if _, err := h.accounts.Register(r.Context(), identity.RegisterParams{
		Username:    req.Username,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	}); err != nil {
		api.WriteServiceError(w, err)
		return
	}

	user, session, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.log.Error("login after register failed", "error", err)
		api.WriteInternalError(w, "failed to create session")
		return
	}
	h.writeSession(w, r, http.StatusCreated, user, session)
}

// HandleLogin handles POST /api/auth/login.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	user, session, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidPassword) {
			api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "invalid username or password")
			return
		}
		h.log.Error("login failed", "error", err)
		api.WriteInternalError(w, "failed to create session")
		return
	}
	h.writeSession(w, r, http.StatusOK, user, session)
}

func (h *Handler) writeSession(w http.ResponseWriter, r *http.Request, status int, user *identity.User, s *identity.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    s.Token,
		Path:     "/",
		Expires:  s.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	api.WriteJSON(w, status, LoginResponse{
		Token:   s.Token,
		User:    user,
		Session: h.sessionView(s),
	})
}

func (h *Handler) sessionView(s *identity.Session) SessionView {
	return SessionView{
		ExpiresAt:        s.ExpiresAt,
		Locked:           h.accounts.IsLocked(s),
		LockAfterSeconds: int64(s.LockAfter / time.Second),
	}
}

// HandleLogout handles POST /api/auth/logout.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.SessionToken(r); token != "" {
		if err := h.accounts.Logout(r.Context(), token); err != nil {
			h.log.Warn("failed to delete session", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
	})
	api.WriteJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// HandleMe handles GET /api/auth/me.
func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	resp := MeResponse{User: user}
	if s := auth.GetSessionFromContext(r.Context()); s != nil {
		view := h.sessionView(s)
		resp.Session = &view
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// HandleLock handles POST /api/auth/lock.
func (h *Handler) HandleLock(w http.ResponseWriter, r *http.Request) {
	if _, err := h.currentUser(r.Context()); err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	if err := h.accounts.Lock(r.Context(), auth.SessionToken(r)); err != nil {
		h.log.Error("failed to lock session", "error", err)
		api.WriteInternalError(w, "failed to lock vault")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]bool{"locked": true})
}

// HandleUnlock handles POST /api/auth/unlock.
func (h *Handler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	if _, err := h.currentUser(r.Context()); err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}
	var req UnlockRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	session, err := h.accounts.Unlock(r.Context(), auth.SessionToken(r), req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidPassword) {
			api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "invalid password")
			return
		}
		h.log.Error("failed to unlock session", "error", err)
		api.WriteInternalError(w, "failed to unlock vault")
		return
	}
	api.WriteJSON(w, http.StatusOK, h.sessionView(session))
}
