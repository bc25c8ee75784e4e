// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package auth provides session authentication middleware for HTTP servers.
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// SessionCookie is the cookie carrying the session token for browser clients.
const SessionCookie = "session"

type contextKey string

const (
	sessionContextKey contextKey = "session"
	userContextKey    contextKey = "user"
)

// ErrNoUser is returned by CurrentUser when the request was not authenticated.
var ErrNoUser = errors.New("no authenticated user in context")

// AuthGateConfig configures the session auth gate middleware.
type AuthGateConfig struct {
	// RequireAuth returns true if the given path requires a session.
	RequireAuth func(path string) bool

	// Lockable returns true if the path is refused while the session is locked.
	// Nil treats every authenticated path as lockable.
	Lockable func(path string) bool

	// Accounts resolves, touches and lock-checks sessions.
	// May be nil only if RequireAuth always returns false (tests only).
	Accounts *identity.Accounts

	Log *slog.Logger
}

// NewAuthGate returns a middleware that enforces session authentication.
// Requests to paths that do not require auth pass through untouched.
//
// A locked session is rejected with 423 on lockable paths and passed through
// on the rest (logout, me, unlock). Activity on an unlocked session moves its
// idle lock deadline forward.
func NewAuthGate(cfg AuthGateConfig) func(http.Handler) http.Handler {
	cfg.Log = logutil.NoopIfNil(cfg.Log)
	lockable := cfg.Lockable
	if lockable == nil {
		lockable = func(string) bool { return true }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAuth(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := SessionToken(r)
			if token == "" {
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
				return
			}

			session, user, err := cfg.Accounts.Resolve(r.Context(), token)
			switch {
			case errors.Is(err, identity.ErrSessionExpired):
				api.WriteUnauthorized(w, api.ReasonSessionExpired, "session has expired")
				return
			case err != nil:
				api.WriteUnauthorized(w, api.ReasonUnauthenticated, "session not found or expired")
				return
			}

			if cfg.Accounts.IsLocked(session) {
				if lockable(r.URL.Path) {
					api.WriteLocked(w)
					return
				}
			} else if err := cfg.Accounts.Touch(r.Context(), token); err != nil {
				cfg.Log.Warn("failed to touch session", "user_id", user.ID, "error", err)
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			ctx = context.WithValue(ctx, userContextKey, user)

			// Handler-only; the access log runs outside the gate.
			ctx = appctx.WithLogger(ctx, appctx.GetLogger(ctx).With("user_id", user.ID))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionToken returns the bearer token or, failing that, the session cookie.
func SessionToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// GetSessionFromContext returns the session from request context.
func GetSessionFromContext(ctx context.Context) *identity.Session {
	session, _ := ctx.Value(sessionContextKey).(*identity.Session)
	return session
}

// GetUserFromContext returns the user from request context.
func GetUserFromContext(ctx context.Context) *identity.User {
	user, _ := ctx.Value(userContextKey).(*identity.User)
	return user
}

// CurrentUser adapts GetUserFromContext to the resolver handlers take.
func CurrentUser(ctx context.Context) (*identity.User, error) {
	if u := GetUserFromContext(ctx); u != nil {
		return u, nil
	}
	return nil, ErrNoUser
}

// WithUser attaches a user to ctx as the gate would. Intended for tests.
func WithUser(ctx context.Context, u *identity.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}
