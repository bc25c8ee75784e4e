// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package middleware provides always-on transport middleware for HTTP servers.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/realip"
)

// RedactedToken replaces share-link tokens in logged paths.
const RedactedToken = "{token}"

// shareTokenLen is the length of a hex encoded share-link token.
const shareTokenLen = 64

// RequestLoggerMiddleware attaches a request-scoped logger and the resolved
// client IP to the request context.
//
// Must run after chi's middleware.RequestID so the request id is populated.
func RequestLoggerMiddleware(base *slog.Logger, trustedProxies *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientIP := resolveClientIP(r, trustedProxies)

			// Inherited by the access log and every handler using appctx.GetLogger.
			reqLogger := base.With(baseAttrs(r, clientIP)...)

			ctx := appctx.WithLogger(r.Context(), reqLogger)
			ctx = appctx.WithClientIP(ctx, clientIP)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveClientIP(r *http.Request, trustedProxies *realip.TrustedProxies) string {
	if trustedProxies == nil {
		return "unknown"
	}
	return trustedProxies.ClientIP(r)
}

func baseAttrs(r *http.Request, clientIP string) []any {
	return []any{
		"request_id", chimw.GetReqID(r.Context()),
		"method", r.Method,
		"path", LogPath(r.URL.Path),
		"client_ip", clientIP,
	}
}

// LogPath returns path as it may appear in logs: share-link tokens are
// replaced with RedactedToken. Callers pass URL.Path, so no query is present.
func LogPath(path string) string {
	if len(path) < shareTokenLen {
		return path
	}
	segs := strings.Split(path, "/")
	redacted := false
	for i, s := range segs {
		if isShareToken(s) {
			segs[i] = RedactedToken
			redacted = true
		}
	}
	if !redacted {
		return path
	}
	return strings.Join(segs, "/")
}

func isShareToken(s string) bool {
	if len(s) != shareTokenLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
