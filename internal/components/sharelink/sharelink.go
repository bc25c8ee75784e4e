// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package sharelink issues, resolves and revokes public share links for files.
//
// A link is usable while it has downloads left and has not expired. Download
// and edit resolutions consume one download through a conditional update in
// the store, so concurrent resolutions never overdraw a link. View links are
// not consumed.
package sharelink

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/files"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// Permissions.
const (
	PermissionView     = "view"
	PermissionDownload = "download"
	PermissionEdit     = "edit"
)

// Defaults applied by Issue.
const (
	DefaultDownloadLimit = 5
	DefaultTTL           = 7 * 24 * time.Hour
	MaxDownloadLimit     = 10000
	MaxRecipients        = 50
)

const (
	tokenBytes        = 32
	maxPasswordLength = 72
)

// Repo is the part of the store the share-link service needs.
type Repo interface {
	store.FileStore
	store.LinkStore
}

// Opener opens stored file contents by reference.
type Opener interface {
	OpenBlob(ctx context.Context, ref string) (io.ReadCloser, error)
}

// Config configures the share-link service.
type Config struct {
	DefaultDownloadLimit int
	DefaultTTL           time.Duration
	Linker               files.Linker
	// Tickets signs download tickets. Nil disables content access through links.
	Tickets *Tickets
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// Service implements the share-link lifecycle.
type Service struct {
	store        Repo
	blobs        Opener
	tickets      *Tickets
	audit        *audit.Recorder
	log          *slog.Logger
	link         files.Linker
	defaultLimit int
	defaultTTL   time.Duration
	cost         int
	now          func() time.Time
}

// NewService creates the share-link service.
func NewService(repo Repo, blobs Opener, rec *audit.Recorder, cfg Config, log *slog.Logger) *Service {
	s := &Service{
		store:        repo,
		blobs:        blobs,
		tickets:      cfg.Tickets,
		audit:        rec,
		log:          logutil.NoopIfNil(log),
		link:         cfg.Linker,
		defaultLimit: cfg.DefaultDownloadLimit,
		defaultTTL:   cfg.DefaultTTL,
		cost:         cfg.BcryptCost,
		now:          time.Now,
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = DefaultDownloadLimit
	}
	if s.defaultTTL <= 0 {
		s.defaultTTL = DefaultTTL
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	return s
}

// IssueParams describes a new link. Zero values take the service defaults:
// view permission, DefaultTTL from now and the default download limit.
type IssueParams struct {
	Recipients        []string
	Team              string
	Permission        string
	ExpiresAt         time.Time
	PasswordProtected bool
	Password          string
	DownloadLimit     int
}

// Issued is the result of Issue.
type Issued struct {
	File *files.File     `json:"file"`
	Link files.ShareLink `json:"shareLink"`
	URL  string          `json:"url"`
}

// PublicFile is what a link holder learns about the shared file.
type PublicFile struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// Resolution is the result of a successful Resolve.
type Resolution struct {
	File               PublicFile `json:"file"`
	Permission         string     `json:"permission"`
	RemainingDownloads int        `json:"remaining_downloads"`
	ExpiresAt          time.Time  `json:"expires_at"`
	Ticket             string     `json:"ticket,omitempty"`
	TicketExpiresAt    *time.Time `json:"ticket_expires_at,omitempty"`
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func validToken(token string) bool {
	if len(token) != 2*tokenBytes {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

// Issue creates a link on a file owned by owner.
func (s *Service) Issue(ctx context.Context, owner, fileID string, p IssueParams) (*Issued, error) {
	if _, err := s.ownedFile(ctx, owner, fileID); err != nil {
		return nil, err
	}
	now := s.now()
	link, err := s.buildLink(fileID, p, now)
	if err != nil {
		return nil, err
	}
	if err := s.store.AddShareLink(ctx, link); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("add share link: %w", err)
	}

	rec, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("reload file: %w", err)
	}

	s.audit.Record(ctx, owner, audit.ActionShareIssue, audit.TargetShareLink, link.ID,
		fmt.Sprintf("file=%s permission=%s limit=%d", fileID, link.Permission, link.DownloadLimit))
	appctx.GetLogger(ctx).Info("share link issued", "file_id", fileID, "link_id", link.ID)

	view := files.LinkView(link, s.link, now)
	return &Issued{
		File: files.ToView(rec, s.link, now),
		Link: view,
		URL:  view.URL,
	}, nil
}

func (s *Service) buildLink(fileID string, p IssueParams, now time.Time) (*store.ShareLink, error) {
	perm := strings.ToLower(strings.TrimSpace(p.Permission))
	switch perm {
	case "":
		perm = PermissionView
	case PermissionView, PermissionDownload, PermissionEdit:
	default:
		return nil, apperr.Invalid("permission", "permission must be one of: view, download, edit")
	}

	expires := p.ExpiresAt
	if expires.IsZero() {
		expires = now.Add(s.defaultTTL)
	}
	if !expires.After(now) {
		return nil, apperr.Invalid("expires_at", "expires_at must be in the future")
	}

	limit := p.DownloadLimit
	switch {
	case limit == 0:
		limit = s.defaultLimit
	case limit < 1:
		return nil, apperr.Invalid("download_limit", "download_limit must be at least 1")
	case limit > MaxDownloadLimit:
		return nil, apperr.Invalid("download_limit", fmt.Sprintf("download_limit must be at most %d", MaxDownloadLimit))
	}

	recipients, err := cleanRecipients(p.Recipients)
	if err != nil {
		return nil, err
	}

	link := &store.ShareLink{
		ID:                 identity.NewID(),
		FileID:             fileID,
		Recipients:         recipients,
		Team:               strings.TrimSpace(p.Team),
		Permission:         perm,
		ExpiresAt:          expires.UnixMilli(),
		DownloadLimit:      limit,
		RemainingDownloads: limit,
		CreatedAt:          now.UnixMilli(),
	}

	if p.PasswordProtected || p.Password != "" {
		if p.Password == "" {
			return nil, apperr.Invalid("password", "password is required for a protected link")
		}
		if len(p.Password) > maxPasswordLength {
			return nil, apperr.Invalid("password", fmt.Sprintf("password must be at most %d bytes", maxPasswordLength))
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Password), s.cost)
		if err != nil {
			return nil, fmt.Errorf("hash link password: %w", err)
		}
		link.PasswordProtected = true
		link.PasswordHash = string(hash)
	}

	link.Token, err = NewToken()
	if err != nil {
		return nil, err
	}
	return link, nil
}

func cleanRecipients(in []string) ([]string, error) {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, r := range in {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) > MaxRecipients {
		return nil, apperr.Invalid("recipients", fmt.Sprintf("at most %d recipients are allowed", MaxRecipients))
	}
	return out, nil
}

// Resolve validates a link and, for download and edit links, consumes one download.
func (s *Service) Resolve(ctx context.Context, token, password string) (*Resolution, error) {
	if !validToken(token) {
		return nil, apperr.ErrNotFound
	}
	link, err := s.store.GetShareLinkByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get share link: %w", err)
	}

	now := s.now()
	if now.UnixMilli() >= link.ExpiresAt {
		return nil, apperr.ErrExpired
	}
	if link.RemainingDownloads <= 0 {
		return nil, apperr.ErrExhausted
	}
	if link.PasswordProtected {
		if password == "" || bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)) != nil {
			return nil, apperr.ErrUnauthorized
		}
	}

	if link.Permission != PermissionView {
		link, err = s.store.ConsumeShareLink(ctx, link.ID, now)
		switch {
		case errors.Is(err, store.ErrConditionFailed):
			return nil, s.consumeFailure(ctx, token, now)
		case errors.Is(err, store.ErrNotFound):
			return nil, apperr.ErrNotFound
		case err != nil:
			return nil, fmt.Errorf("consume share link: %w", err)
		}
	}

	rec, err := s.store.GetFile(ctx, link.FileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}

	res := &Resolution{
		File:               publicFile(rec),
		Permission:         link.Permission,
		RemainingDownloads: link.RemainingDownloads,
		ExpiresAt:          time.UnixMilli(link.ExpiresAt),
	}
	if s.tickets != nil {
		ticket, exp, err := s.tickets.Sign(token, rec.ID, link.Permission)
		if err != nil {
			return nil, err
		}
		res.Ticket = ticket
		res.TicketExpiresAt = &exp
	}

	s.audit.Record(ctx, rec.Owner, audit.ActionShareResolve, audit.TargetShareLink, link.ID,
		fmt.Sprintf("permission=%s remaining=%d", link.Permission, link.RemainingDownloads))
	return res, nil
}

// consumeFailure classifies a link that lost the guarded decrement by reading
// it again. A link revoked in the meantime is reported as unknown.
func (s *Service) consumeFailure(ctx context.Context, token string, now time.Time) error {
	link, err := s.store.GetShareLinkByToken(ctx, token)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.ErrNotFound
	case err != nil:
		return fmt.Errorf("get share link: %w", err)
	case now.UnixMilli() >= link.ExpiresAt:
		return apperr.ErrExpired
	}
	return apperr.ErrExhausted
}

// Content opens the file behind a link for the holder of a valid ticket.
// It does not consume a download; Resolve already did.
func (s *Service) Content(ctx context.Context, token, ticket string) (*PublicFile, string, io.ReadCloser, error) {
	if s.tickets == nil {
		return nil, "", nil, apperr.ErrNotFound
	}
	claims, err := s.tickets.Verify(ticket, token)
	if err != nil {
		return nil, "", nil, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, err)
	}

	link, err := s.store.GetShareLinkByToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, "", nil, fmt.Errorf("get share link: %w", err)
	}
	if link.FileID != claims.FileID {
		return nil, "", nil, fmt.Errorf("%w: %w", apperr.ErrUnauthorized, ErrInvalidTicket)
	}
	if s.now().UnixMilli() >= link.ExpiresAt {
		return nil, "", nil, apperr.ErrExpired
	}

	rec, err := s.store.GetFile(ctx, link.FileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, "", nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, "", nil, fmt.Errorf("get file: %w", err)
	}
	rc, err := s.blobs.OpenBlob(ctx, rec.StorageRef)
	if err != nil {
		return nil, "", nil, err
	}
	pf := publicFile(rec)
	return &pf, link.Permission, rc, nil
}

// Revoke deletes a link from a file owned by actor and returns the updated file.
func (s *Service) Revoke(ctx context.Context, actor, fileID, linkID string) (*files.File, error) {
	if _, err := s.ownedFile(ctx, actor, fileID); err != nil {
		return nil, err
	}
	if err := s.store.DeleteShareLink(ctx, fileID, linkID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("delete share link: %w", err)
	}

	rec, err := s.store.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("reload file: %w", err)
	}
	s.audit.Record(ctx, actor, audit.ActionShareRevoke, audit.TargetShareLink, linkID, "file="+fileID)
	appctx.GetLogger(ctx).Info("share link revoked", "file_id", fileID, "link_id", linkID)
	return files.ToView(rec, s.link, s.now()), nil
}

// List returns the links of a file owned by actor.
func (s *Service) List(ctx context.Context, actor, fileID string) ([]files.ShareLink, error) {
	rec, err := s.ownedFile(ctx, actor, fileID)
	if err != nil {
		return nil, err
	}
	return files.ToView(rec, s.link, s.now()).ShareLinks, nil
}

func (s *Service) ownedFile(ctx context.Context, actor, fileID string) (*store.File, error) {
	rec, err := s.store.GetFile(ctx, fileID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	if rec.Owner != actor {
		return nil, apperr.ErrUnauthorized
	}
	return rec, nil
}

func publicFile(rec *store.File) PublicFile {
	return PublicFile{
		ID:        rec.ID,
		Name:      rec.Name,
		MimeType:  rec.MimeType,
		SizeBytes: rec.SizeBytes,
	}
}
