// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package sharelink_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/files"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/sharelink"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob/davfs"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
)

var ticketKey = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	svc   *sharelink.Service
	files *files.Service
	store store.Store
	file  *files.File
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

	linker := func(token string) string { return "https://vault.example.com/s/" + token }
	rec := audit.NewRecorder(s, nil)
	fs := files.NewService(s, davfs.NewMemory(), rec, files.Config{Linker: linker}, nil)

	tickets, err := sharelink.NewTickets(ticketKey)
	if err != nil {
		t.Fatalf("NewTickets: %v", err)
	}
	svc := sharelink.NewService(s, fs, rec, sharelink.Config{
		Linker:     linker,
		Tickets:    tickets,
		BcryptCost: bcrypt.MinCost,
	}, nil)

	f, err := fs.Upload(context.Background(), "alice", files.UploadParams{
		Name: "report.txt",
		Size: 6,
		Body: strings.NewReader("secret"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return &fixture{svc: svc, files: fs, store: s, file: f}
}

func (fx *fixture) issue(t *testing.T, p sharelink.IssueParams) *sharelink.Issued {
	t.Helper()
	issued, err := fx.svc.Issue(context.Background(), "alice", fx.file.ID, p)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return issued
}

func TestIssue(t *testing.T) {
	fx := newFixture(t)
	issued := fx.issue(t, sharelink.IssueParams{
		Recipients:    []string{" Bob@Example.com", "bob@example.com", ""},
		Permission:    "download",
		DownloadLimit: 3,
	})

	link := issued.Link
	if len(link.Token) != 64 {
		t.Errorf("expected a 64 char token, got %d", len(link.Token))
	}
	if issued.URL != "https://vault.example.com/s/"+link.Token {
		t.Errorf("unexpected url %q", issued.URL)
	}
	if link.RemainingDownloads != 3 || link.DownloadLimit != 3 {
		t.Errorf("expected 3/3, got %d/%d", link.RemainingDownloads, link.DownloadLimit)
	}
	if len(link.Recipients) != 1 || link.Recipients[0] != "bob@example.com" {
		t.Errorf("recipients not normalized: %v", link.Recipients)
	}
	if link.State != files.LinkActive {
		t.Errorf("expected active, got %q", link.State)
	}
	if len(issued.File.ShareLinks) != 1 {
		t.Errorf("updated file should carry the link, got %d", len(issued.File.ShareLinks))
	}

	entries, _ := fx.store.ListAudit(context.Background(), "alice", 0)
	if len(entries) == 0 || entries[0].Action != audit.ActionShareIssue {
		t.Errorf("expected a share.issue audit entry first, got %+v", entries)
	}
}

func TestIssue_Defaults(t *testing.T) {
	fx := newFixture(t)
	before := time.Now()
	link := fx.issue(t, sharelink.IssueParams{}).Link

	if link.Permission != sharelink.PermissionView {
		t.Errorf("expected view, got %q", link.Permission)
	}
	if link.DownloadLimit != sharelink.DefaultDownloadLimit {
		t.Errorf("expected default limit, got %d", link.DownloadLimit)
	}
	if link.ExpiresAt.Before(before.Add(sharelink.DefaultTTL - time.Minute)) {
		t.Errorf("expected default expiry, got %v", link.ExpiresAt)
	}
	if link.PasswordProtected {
		t.Error("link should not be protected")
	}
}

func TestIssue_PasswordIsHashed(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{PasswordProtected: true, Password: "open sesame"}).Link

	rec, err := fx.store.GetShareLinkByToken(context.Background(), link.Token)
	if err != nil {
		t.Fatalf("GetShareLinkByToken: %v", err)
	}
	if !rec.PasswordProtected || rec.PasswordHash == "" || rec.PasswordHash == "open sesame" {
		t.Fatalf("password must be stored hashed, got %q", rec.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("open sesame")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

func TestIssue_Errors(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	if _, err := fx.svc.Issue(ctx, "bob", fx.file.ID, sharelink.IssueParams{}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("non-owner: expected ErrUnauthorized, got %v", err)
	}
	if _, err := fx.svc.Issue(ctx, "alice", "missing", sharelink.IssueParams{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing file: expected ErrNotFound, got %v", err)
	}

	tests := []struct {
		name   string
		params sharelink.IssueParams
	}{
		{"bad permission", sharelink.IssueParams{Permission: "own"}},
		{"past expiry", sharelink.IssueParams{ExpiresAt: time.Now().Add(-time.Minute)}},
		{"negative limit", sharelink.IssueParams{DownloadLimit: -1}},
		{"huge limit", sharelink.IssueParams{DownloadLimit: sharelink.MaxDownloadLimit + 1}},
		{"protected without password", sharelink.IssueParams{PasswordProtected: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := fx.svc.Issue(ctx, "alice", fx.file.ID, tt.params); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestResolve_LimitFiveLeavesFour(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{Permission: "download", DownloadLimit: 5}).Link

	res, err := fx.svc.Resolve(context.Background(), link.Token, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.RemainingDownloads != 4 {
		t.Errorf("expected 4 remaining, got %d", res.RemainingDownloads)
	}
	if res.File.ID != fx.file.ID || res.File.Name != "report.txt" {
		t.Errorf("unexpected file %+v", res.File)
	}
	if res.Ticket == "" || res.TicketExpiresAt == nil {
		t.Error("expected a download ticket")
	}

	rec, _ := fx.store.GetShareLinkByToken(context.Background(), link.Token)
	if rec.RemainingDownloads != 4 {
		t.Errorf("store should hold 4, got %d", rec.RemainingDownloads)
	}
}

func TestResolve_ViewDoesNotConsume(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{Permission: "view", DownloadLimit: 1}).Link

	for i := 0; i < 3; i++ {
		res, err := fx.svc.Resolve(context.Background(), link.Token, "")
		if err != nil {
			t.Fatalf("Resolve %d: %v", i, err)
		}
		if res.RemainingDownloads != 1 {
			t.Errorf("view must not consume, got %d", res.RemainingDownloads)
		}
	}
}

func TestResolve_Exhausted(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{Permission: "edit", DownloadLimit: 1}).Link
	ctx := context.Background()

	if _, err := fx.svc.Resolve(ctx, link.Token, ""); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if _, err := fx.svc.Resolve(ctx, link.Token, ""); !errors.Is(err, apperr.ErrExhausted) {
		t.Errorf("expected ErrExhausted, got %v", err)
	}
}

func TestResolve_ConcurrentSingleUse(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{Permission: "download", DownloadLimit: 1}).Link

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		ok        int
		exhausted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.svc.Resolve(context.Background(), link.Token, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, apperr.ErrExhausted):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 1 {
		t.Errorf("expected exactly one success, got %d", ok)
	}
	if exhausted != workers-1 {
		t.Errorf("expected %d exhausted, got %d", workers-1, exhausted)
	}
}

// interleavedRepo runs between Resolve's lookup and its guarded decrement.
type interleavedRepo struct {
	sharelink.Repo
	between func(ctx context.Context, linkID string)
}

func (r interleavedRepo) ConsumeShareLink(ctx context.Context, linkID string, now time.Time) (*store.ShareLink, error) {
	r.between(ctx, linkID)
	return r.Repo.ConsumeShareLink(ctx, linkID, now)
}

func TestResolve_LosesRaceToRevokeOrConsume(t *testing.T) {
	tests := []struct {
		name    string
		between func(t *testing.T, fx *fixture) func(context.Context, string)
		want    error
	}{
		{
			name: "revoked",
			between: func(t *testing.T, fx *fixture) func(context.Context, string) {
				return func(ctx context.Context, linkID string) {
					if _, err := fx.svc.Revoke(ctx, "alice", fx.file.ID, linkID); err != nil {
						t.Fatalf("Revoke: %v", err)
					}
				}
			},
			want: apperr.ErrNotFound,
		},
		{
			name: "consumed",
			between: func(t *testing.T, fx *fixture) func(context.Context, string) {
				return func(ctx context.Context, linkID string) {
					if _, err := fx.store.ConsumeShareLink(ctx, linkID, time.Now()); err != nil {
						t.Fatalf("ConsumeShareLink: %v", err)
					}
				}
			},
			want: apperr.ErrExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			link := fx.issue(t, sharelink.IssueParams{Permission: "download", DownloadLimit: 1}).Link

			repo := interleavedRepo{Repo: fx.store, between: tt.between(t, fx)}
			svc := sharelink.NewService(repo, fx.files, audit.NewRecorder(fx.store, nil), sharelink.Config{
				BcryptCost: bcrypt.MinCost,
			}, nil)

			_, err := svc.Resolve(context.Background(), link.Token, "")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestResolve_PastExpiry(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	token, _ := sharelink.NewToken()
	link := &store.ShareLink{
		ID:                 "expired-link",
		FileID:             fx.file.ID,
		Token:              token,
		Permission:         sharelink.PermissionDownload,
		ExpiresAt:          time.Now().Add(-time.Second).UnixMilli(),
		DownloadLimit:      5,
		RemainingDownloads: 5,
	}
	if err := fx.store.AddShareLink(ctx, link); err != nil {
		t.Fatalf("AddShareLink: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := fx.svc.Resolve(ctx, token, ""); !errors.Is(err, apperr.ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
	}
	rec, _ := fx.store.GetShareLinkByToken(ctx, token)
	if rec.RemainingDownloads != 5 {
		t.Errorf("expired link must not be consumed, got %d", rec.RemainingDownloads)
	}
}

func TestResolve_Password(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{
		Permission:    "download",
		Password:      "open sesame",
		DownloadLimit: 2,
	}).Link
	ctx := context.Background()

	for _, pw := range []string{"", "wrong"} {
		if _, err := fx.svc.Resolve(ctx, link.Token, pw); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("password %q: expected ErrUnauthorized, got %v", pw, err)
		}
	}
	rec, _ := fx.store.GetShareLinkByToken(ctx, link.Token)
	if rec.RemainingDownloads != 2 {
		t.Errorf("failed attempts must not consume, got %d", rec.RemainingDownloads)
	}

	if _, err := fx.svc.Resolve(ctx, link.Token, "open sesame"); err != nil {
		t.Errorf("correct password: %v", err)
	}
}

func TestResolve_UnknownToken(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	other, _ := sharelink.NewToken()
	for _, token := range []string{"", "short", other} {
		if _, err := fx.svc.Resolve(ctx, token, ""); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("token %q: expected ErrNotFound, got %v", token, err)
		}
	}
}

func TestContent(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{Permission: "download", DownloadLimit: 1}).Link
	ctx := context.Background()

	res, err := fx.svc.Resolve(ctx, link.Token, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	// The ticket stays usable after the single download was consumed.
	for i := 0; i < 2; i++ {
		pf, perm, rc, err := fx.svc.Content(ctx, link.Token, res.Ticket)
		if err != nil {
			t.Fatalf("Content %d: %v", i, err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if string(data) != "secret" || pf.Name != "report.txt" || perm != "download" {
			t.Errorf("unexpected content %q %+v %q", data, pf, perm)
		}
	}

	other := fx.issue(t, sharelink.IssueParams{Permission: "download"}).Link
	if _, _, _, err := fx.svc.Content(ctx, other.Token, res.Ticket); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("ticket for another link: expected ErrUnauthorized, got %v", err)
	}
	if _, _, _, err := fx.svc.Content(ctx, link.Token, "garbage"); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("garbage ticket: expected ErrUnauthorized, got %v", err)
	}

	if _, err := fx.svc.Revoke(ctx, "alice", fx.file.ID, link.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, _, _, err := fx.svc.Content(ctx, link.Token, res.Ticket); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("revoked link: expected ErrNotFound, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	fx := newFixture(t)
	link := fx.issue(t, sharelink.IssueParams{Permission: "download", DownloadLimit: 2}).Link
	ctx := context.Background()

	if _, err := fx.svc.Revoke(ctx, "bob", fx.file.ID, link.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("non-owner: expected ErrUnauthorized, got %v", err)
	}
	if _, err := fx.svc.Resolve(ctx, link.Token, ""); err != nil {
		t.Fatalf("link must stay active after a rejected revoke: %v", err)
	}

	if _, err := fx.svc.Revoke(ctx, "alice", fx.file.ID, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing link: expected ErrNotFound, got %v", err)
	}

	updated, err := fx.svc.Revoke(ctx, "alice", fx.file.ID, link.ID)
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if len(updated.ShareLinks) != 0 {
		t.Errorf("expected no links left, got %d", len(updated.ShareLinks))
	}
	if _, err := fx.svc.Resolve(ctx, link.Token, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("revoked link: expected ErrNotFound, got %v", err)
	}
}

func TestList(t *testing.T) {
	fx := newFixture(t)
	fx.issue(t, sharelink.IssueParams{})
	fx.issue(t, sharelink.IssueParams{Permission: "edit"})

	links, err := fx.svc.List(context.Background(), "alice", fx.file.ID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(links) != 2 {
		t.Errorf("expected 2 links, got %d", len(links))
	}
	for _, l := range links {
		if l.URL == "" {
			t.Error("links should carry their url")
		}
	}
	if _, err := fx.svc.List(context.Background(), "bob", fx.file.ID); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSweeper(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	live := fx.issue(t, sharelink.IssueParams{Permission: "download", DownloadLimit: 1}).Link
	spent := fx.issue(t, sharelink.IssueParams{Permission: "download", DownloadLimit: 1}).Link
	if _, err := fx.svc.Resolve(ctx, spent.Token, ""); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	sw := sharelink.NewSweeper(fx.store, time.Hour, nil)
	if n := sw.SweepOnce(ctx); n != 1 {
		t.Errorf("expected 1 swept link, got %d", n)
	}
	if _, err := fx.store.GetShareLinkByToken(ctx, live.Token); err != nil {
		t.Errorf("live link should survive: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cancel()
	sharelink.NewSweeper(fx.store, 0, nil).Run(runCtx)
}
