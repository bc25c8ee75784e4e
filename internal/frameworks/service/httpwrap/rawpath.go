// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package httpwrap provides HTTP handler wrappers for service layer use.
package httpwrap

import "net/http"

// ClearRawPath wraps a handler and clears r.URL.RawPath before routing, so
// chi matches share tokens and ids on their decoded form.
func ClearRawPath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.URL.RawPath = ""
		next.ServeHTTP(w, r)
	})
}
