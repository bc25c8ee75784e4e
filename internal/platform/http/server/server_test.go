// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MahdiBaghbani/vaultshare-go/internal/frameworks/service"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/config"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps/depstest"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/services/api"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/services/share"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// trackingService records when Close() is called.
type trackingService struct {
	name        string
	prefix      string
	unprotected []string
	exempt      []string
	closeOrder  *[]string
}

func (t *trackingService) Handler() http.Handler { return http.NotFoundHandler() }
func (t *trackingService) Prefix() string        { return t.prefix }
func (t *trackingService) Unprotected() []string { return t.unprotected }
func (t *trackingService) LockExempt() []string  { return t.exempt }
func (t *trackingService) Close() error {
	if t.closeOrder != nil {
		*t.closeOrder = append(*t.closeOrder, t.name)
	}
	return nil
}

var (
	_ service.Service  = (*trackingService)(nil)
	_ service.Lockable = (*trackingService)(nil)
)

func TestNew_FailsWithNilSharedDeps(t *testing.T) {
	deps.ResetDeps()
	defer deps.ResetDeps()

	_, err := New(config.DevConfig(), quietLogger(), nil)
	if !errors.Is(err, ErrMissingSharedDeps) {
		t.Errorf("expected ErrMissingSharedDeps, got: %v", err)
	}
}

func TestNew_SucceedsWithSharedDeps(t *testing.T) {
	depstest.Setup(t, nil)

	srv, err := New(config.DevConfig(), quietLogger(), nil)
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if srv == nil {
		t.Fatal("expected non-nil server")
	}
}

func TestShutdown_ClosesServicesInReverseOrder(t *testing.T) {
	depstest.Setup(t, nil)

	var closeOrder []string
	srv, err := New(config.DevConfig(), quietLogger(), map[string]service.Service{
		"zeta":  &trackingService{name: "zeta", prefix: "zeta", closeOrder: &closeOrder},
		"share": &trackingService{name: "share", prefix: "s", closeOrder: &closeOrder},
		"api":   &trackingService{name: "api", prefix: "api", closeOrder: &closeOrder},
		"nil":   nil,
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	// Mounted as api, share, zeta.
	expected := []string{"zeta", "share", "api"}
	if strings.Join(closeOrder, ",") != strings.Join(expected, ",") {
		t.Errorf("close order = %v, want %v", closeOrder, expected)
	}
}

func TestACME_FailsFastWithoutPorts(t *testing.T) {
	depstest.Setup(t, nil)

	cfg := config.DevConfig()
	cfg.TLS.Mode = "acme"
	cfg.TLS.HTTPPort = 0
	cfg.ListenAddr = "127.0.0.1:0"

	srv, err := New(cfg, quietLogger(), nil)
	if err != nil {
		t.Fatalf("server creation failed: %v", err)
	}
	if err := srv.Start(); err == nil || !strings.Contains(err.Error(), "http_port") {
		t.Errorf("expected http_port error, got %v", err)
	}
}

func TestStart_InvalidTLSMode(t *testing.T) {
	depstest.Setup(t, nil)

	cfg := config.DevConfig()
	cfg.TLS.Mode = "bogus"
	srv, err := New(cfg, quietLogger(), nil)
	if err != nil {
		t.Fatalf("server creation failed: %v", err)
	}
	if err := srv.Start(); err == nil {
		t.Error("expected error for invalid TLS mode")
	}
}

func TestIsAuthRequired(t *testing.T) {
	services := []service.Service{
		&trackingService{prefix: "api", unprotected: []string{"/healthz", "/auth/login"}},
		&trackingService{prefix: "s"},
	}

	tests := []struct {
		name     string
		path     string
		basePath string
		want     bool
	}{
		{"api root", "/api", "", true},
		{"api route", "/api/passwords", "", true},
		{"unprotected", "/api/auth/login", "", false},
		{"unprotected subpath", "/api/healthz/deep", "", false},
		{"prefix without separator", "/api/auth/loginx", "", true},
		{"share group", "/s/abc123", "", false},
		{"share lookalike", "/share/abc", "", true},
		{"unknown", "/elsewhere", "", true},
		{"base path api", "/vault/api/files", "/vault", true},
		{"base path unprotected", "/vault/api/healthz", "/vault", false},
		{"base path share", "/vault/s/abc", "/vault", false},
		{"outside base path", "/s/abc", "/vault", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthRequired(tt.path, tt.basePath, services); got != tt.want {
				t.Errorf("IsAuthRequired(%q, %q) = %v, want %v", tt.path, tt.basePath, got, tt.want)
			}
		})
	}
}

func TestIsLockable(t *testing.T) {
	services := []service.Service{
		&trackingService{prefix: "api", exempt: []string{"/auth/unlock", "/auth/me"}},
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/api/auth/unlock", false},
		{"/api/auth/me", false},
		{"/api/passwords", true},
		{"/api/auth/lock", true},
	}
	for _, tt := range tests {
		if got := IsLockable(tt.path, "", services); got != tt.want {
			t.Errorf("IsLockable(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestGetRouteGroups(t *testing.T) {
	groups := GetRouteGroups()
	byName := make(map[string]RouteGroup, len(groups))
	for _, g := range groups {
		byName[g.Name] = g
	}
	if g, ok := byName["api"]; !ok || !g.RequiresAuth || g.PathPrefix != "/api" {
		t.Errorf("unexpected api group: %+v", g)
	}
	if g, ok := byName["share"]; !ok || g.RequiresAuth || g.PathPrefix != "/s" {
		t.Errorf("unexpected share group: %+v", g)
	}
}

// newVaultServer builds a server with the real api and share services.
func newVaultServer(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	depstest.Setup(t, cfg)

	services, err := service.BuildAll(cfg.BuildServiceConfig, quietLogger())
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	srv, err := New(cfg, quietLogger(), services)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv.Handler()
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestServer_SessionGateAndVaultLock(t *testing.T) {
	cfg := config.DevConfig()
	cfg.ExternalBasePath = "/vault"
	h := newVaultServer(t, cfg)

	if rec := do(h, http.MethodGet, "/vault/api/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/vault/api/passwords", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous passwords: expected 401, got %d", rec.Code)
	}

	rec := do(h, http.MethodPost, "/vault/api/auth/register", "",
		`{"username":"alice","email":"alice@example.com","password":"C0rrect-Horse-Battery!"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&login); err != nil || login.Token == "" {
		t.Fatalf("expected token, err=%v", err)
	}

	if rec := do(h, http.MethodGet, "/vault/api/passwords", login.Token, ""); rec.Code != http.StatusOK {
		t.Fatalf("passwords: expected 200, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/vault/api/auth/lock", login.Token, ""); rec.Code != http.StatusOK {
		t.Fatalf("lock: expected 200, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/vault/api/passwords", login.Token, ""); rec.Code != http.StatusLocked {
		t.Fatalf("locked passwords: expected 423, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/vault/api/auth/me", login.Token, ""); rec.Code != http.StatusOK {
		t.Fatalf("locked me: expected 200, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/vault/api/auth/unlock", login.Token, `{"password":"wrong"}`); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad unlock: expected 401, got %d", rec.Code)
	}
	if rec := do(h, http.MethodPost, "/vault/api/auth/unlock", login.Token, `{"password":"C0rrect-Horse-Battery!"}`); rec.Code != http.StatusOK {
		t.Fatalf("unlock: expected 200, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/vault/api/passwords", login.Token, ""); rec.Code != http.StatusOK {
		t.Fatalf("unlocked passwords: expected 200, got %d", rec.Code)
	}
}

func TestServer_ShareRoutesArePublic(t *testing.T) {
	h := newVaultServer(t, config.DevConfig())

	rec := do(h, http.MethodPost, "/s/"+strings.Repeat("ab", 32), "", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown share token: expected 404, got %d", rec.Code)
	}
	if rec := do(h, http.MethodGet, "/nowhere", "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unknown path: expected 401, got %d", rec.Code)
	}
}

func TestServer_CORSPreflightBeforeGate(t *testing.T) {
	cfg := config.DevConfig()
	cfg.Server.CORSAllowedOrigins = []string{"http://localhost:5173"}
	h := newVaultServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/passwords", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("expected allowed origin header, got %q (status %d)", got, rec.Code)
	}
	if rec.Code == http.StatusUnauthorized {
		t.Error("preflight must not hit the auth gate")
	}
}

func TestHTTPSRedirectHandler(t *testing.T) {
	tests := []struct {
		port int
		host string
		want string
	}{
		{443, "vault.example.com", "https://vault.example.com/api/healthz?x=1"},
		{8443, "vault.example.com:80", "https://vault.example.com:8443/api/healthz?x=1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/healthz?x=1", nil)
		req.Host = tt.host
		rec := httptest.NewRecorder()
		newHTTPSRedirectHandler(tt.port).ServeHTTP(rec, req)

		if rec.Code != http.StatusPermanentRedirect {
			t.Errorf("expected 308, got %d", rec.Code)
		}
		if got := rec.Header().Get("Location"); got != tt.want {
			t.Errorf("Location = %q, want %q", got, tt.want)
		}
	}
}
