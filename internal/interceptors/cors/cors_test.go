// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MahdiBaghbani/vaultshare-go/internal/interceptors"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/config"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestInit_RegistersInterceptor(t *testing.T) {
	if _, ok := interceptors.Get("cors"); !ok {
		t.Fatal("expected cors interceptor to be registered")
	}
}

func TestPreflight(t *testing.T) {
	mw, err := New(map[string]any{"allowed_origins": []string{"https://app.example.com"}}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h := mw(okHandler())

	tests := []struct {
		name        string
		origin      string
		wantAllowed bool
	}{
		{"allowed origin", "https://app.example.com", true},
		{"foreign origin", "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodOptions, "/api/passwords", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get("Access-Control-Allow-Origin")
			if tt.wantAllowed && got != tt.origin {
				t.Errorf("expected Access-Control-Allow-Origin %q, got %q", tt.origin, got)
			}
			if !tt.wantAllowed && got != "" {
				t.Errorf("expected no Access-Control-Allow-Origin, got %q", got)
			}
			if tt.wantAllowed && rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
				t.Error("expected credentials to be allowed")
			}
		})
	}
}

func TestDefaultsFromServerConfig(t *testing.T) {
	deps.ResetDeps()
	defer deps.ResetDeps()
	cfg := config.DevConfig()
	deps.SetDeps(&deps.Deps{Config: cfg})

	mw, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected dev origin to be allowed, got %q", got)
	}
}

func TestNoOriginsPassesThrough(t *testing.T) {
	deps.ResetDeps()
	defer deps.ResetDeps()

	mw, err := New(nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	mw(okHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("expected no CORS headers without configured origins")
	}
}
