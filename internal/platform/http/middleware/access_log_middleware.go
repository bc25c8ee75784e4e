// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/realip"
)

// AccessLogMiddleware writes one "request" line per request with status,
// bytes and duration_ms. It logs on the request-scoped logger set by
// RequestLoggerMiddleware; when that is missing the base fields are rebuilt
// from log and trustedProxies. Server errors are logged at error level.
//
// Must run outside chi's Recoverer so recovered panics are logged as 500.
func AccessLogMiddleware(log *slog.Logger, trustedProxies *realip.TrustedProxies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger, ok := appctx.LoggerFromContext(r.Context())
				if !ok {
					logger = log.With(baseAttrs(r, resolveClientIP(r, trustedProxies))...)
				}

				status := ww.Status()
				if status == 0 {
					// Nothing written; net/http answers 200.
					status = http.StatusOK
				}
				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelError
				}

				// user_id is absent because the auth gate runs further in.
				logger.Log(r.Context(), level, "request",
					"status", status,
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
