// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package interceptors provides cross-cutting HTTP middleware built by name
// from the [http.interceptors.<name>] config sections.
package interceptors

import (
	"log/slog"
	"net/http"
)

// Middleware is an HTTP middleware function.
type Middleware func(http.Handler) http.Handler

// NewInterceptor is the constructor function type for interceptors.
type NewInterceptor func(conf map[string]any, log *slog.Logger) (Middleware, error)
