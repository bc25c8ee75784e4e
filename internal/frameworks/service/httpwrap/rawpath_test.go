// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package httpwrap

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClearRawPath(t *testing.T) {
	var seenRawPath, seenPath string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRawPath, seenPath = r.URL.RawPath, r.URL.Path
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/s/tok%2Fen", nil)
	if req.URL.RawPath == "" {
		t.Fatal("test setup error: RawPath should be set")
	}

	rec := httptest.NewRecorder()
	ClearRawPath(inner).ServeHTTP(rec, req)

	if seenRawPath != "" {
		t.Errorf("expected RawPath cleared, got %q", seenRawPath)
	}
	if seenPath != "/s/tok/en" {
		t.Errorf("expected decoded Path preserved, got %q", seenPath)
	}
}
