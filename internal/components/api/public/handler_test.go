// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package public_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api/public"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/files"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/sharelink"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob/davfs"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

type fixture struct {
	router http.Handler
	links  *sharelink.Service
	file   *files.File
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.New(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	rec := audit.NewRecorder(s, testLogger)
	fs := files.NewService(s, davfs.NewMemory(), rec, files.Config{}, testLogger)
	tickets, err := sharelink.NewTickets([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	links := sharelink.NewService(s, fs, rec, sharelink.Config{Tickets: tickets, BcryptCost: bcrypt.MinCost}, testLogger)

	f, err := fs.Upload(context.Background(), "alice", files.UploadParams{
		Name: "plan.txt",
		Size: 9,
		Body: strings.NewReader("top plans"),
	})
	if err != nil {
		t.Fatal(err)
	}

	h := public.NewHandler(links, testLogger)
	r := chi.NewRouter()
	r.Post("/s/{token}", h.HandleResolve)
	r.Get("/s/{token}/content", h.HandleContent)
	return &fixture{router: r, links: links, file: f}
}

func (fx *fixture) issue(t *testing.T, p sharelink.IssueParams) string {
	t.Helper()
	issued, err := fx.links.Issue(context.Background(), "alice", fx.file.ID, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued.Link.Token
}

func (fx *fixture) resolve(t *testing.T, token, password string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if password != "" {
		json.NewEncoder(&body).Encode(public.ResolveRequest{Password: password})
	}
	req := httptest.NewRequest(http.MethodPost, "/s/"+token, &body)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	return rr
}

func (fx *fixture) content(token, ticket string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/s/"+token+"/content?ticket="+url.QueryEscape(ticket), nil)
	rr := httptest.NewRecorder()
	fx.router.ServeHTTP(rr, req)
	return rr
}

func reasonOf(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var env api.ErrorEnvelope
	if err := json.NewDecoder(rr.Body).Decode(&env); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return env.Error.ReasonCode
}

func TestResolveAndDownload(t *testing.T) {
	fx := newFixture(t)
	token := fx.issue(t, sharelink.IssueParams{Permission: sharelink.PermissionDownload, DownloadLimit: 1})

	rr := fx.resolve(t, token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("resolve: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res sharelink.Resolution
	if err := json.NewDecoder(rr.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.RemainingDownloads != 0 || res.Ticket == "" || res.File.Name != "plan.txt" {
		t.Errorf("unexpected resolution %+v", res)
	}

	rr = fx.content(token, res.Ticket)
	if rr.Code != http.StatusOK || rr.Body.String() != "top plans" {
		t.Fatalf("content: got %d %q", rr.Code, rr.Body.String())
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "attachment") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	// The ticket stays valid for content even though the link is used up.
	if rr := fx.content(token, res.Ticket); rr.Code != http.StatusOK {
		t.Errorf("second content fetch: expected 200, got %d", rr.Code)
	}

	rr = fx.resolve(t, token, "")
	if rr.Code != http.StatusGone || reasonOf(t, rr) != api.ReasonExhausted {
		t.Errorf("exhausted link: expected 410 exhausted, got %d", rr.Code)
	}
}

func TestResolve_ViewIsInline(t *testing.T) {
	fx := newFixture(t)
	token := fx.issue(t, sharelink.IssueParams{})

	rr := fx.resolve(t, token, "")
	var res sharelink.Resolution
	json.NewDecoder(rr.Body).Decode(&res)
	if res.Permission != sharelink.PermissionView || res.RemainingDownloads != sharelink.DefaultDownloadLimit {
		t.Fatalf("unexpected resolution %+v", res)
	}

	rr = fx.content(token, res.Ticket)
	if cd := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(cd, "inline") {
		t.Errorf("Content-Disposition = %q", cd)
	}
}

func TestResolve_Password(t *testing.T) {
	fx := newFixture(t)
	token := fx.issue(t, sharelink.IssueParams{Password: "hunter22"})

	if rr := fx.resolve(t, token, ""); rr.Code != http.StatusUnauthorized || reasonOf(t, rr) != api.ReasonInvalidCredentials {
		t.Errorf("missing password: expected 401 invalid_credentials, got %d", rr.Code)
	}
	if rr := fx.resolve(t, token, "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rr.Code)
	}
	if rr := fx.resolve(t, token, "hunter22"); rr.Code != http.StatusOK {
		t.Errorf("right password: expected 200, got %d", rr.Code)
	}
}

func TestResolve_Unknown(t *testing.T) {
	fx := newFixture(t)
	if rr := fx.resolve(t, strings.Repeat("ab", 32), ""); rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
	if rr := fx.resolve(t, "not-a-token", ""); rr.Code != http.StatusNotFound {
		t.Errorf("malformed token: expected 404, got %d", rr.Code)
	}
}

func TestContent_Tickets(t *testing.T) {
	fx := newFixture(t)
	token := fx.issue(t, sharelink.IssueParams{})
	other := fx.issue(t, sharelink.IssueParams{})

	rr := fx.resolve(t, other, "")
	var res sharelink.Resolution
	json.NewDecoder(rr.Body).Decode(&res)

	if rr := fx.content(token, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no ticket: expected 401, got %d", rr.Code)
	}
	if rr := fx.content(token, "garbage"); rr.Code != http.StatusUnauthorized {
		t.Errorf("bad ticket: expected 401, got %d", rr.Code)
	}
	if rr := fx.content(token, res.Ticket); rr.Code != http.StatusUnauthorized {
		t.Errorf("ticket for another link: expected 401, got %d", rr.Code)
	}
}
