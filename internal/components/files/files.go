// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package files manages folders and uploaded files. Contents go to a
// blob.Store; metadata and share links go to the store.
package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/appctx"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// DefaultMaxUploadBytes applies when Config.MaxUploadBytes is zero.
const DefaultMaxUploadBytes = 50 << 20

const sniffLen = 3072

// Repo is the part of the store the files service needs.
type Repo interface {
	store.FolderStore
	store.FileStore
}

// Config configures the files service.
type Config struct {
	MaxUploadBytes int64
	Linker         Linker
}

// Service implements folder and file operations for their owners.
type Service struct {
	store     Repo
	blobs     blob.Store
	audit     *audit.Recorder
	log       *slog.Logger
	maxUpload int64
	link      Linker
	now       func() time.Time
}

// NewService creates the files service.
func NewService(repo Repo, blobs blob.Store, rec *audit.Recorder, cfg Config, log *slog.Logger) *Service {
	s := &Service{
		store:     repo,
		blobs:     blobs,
		audit:     rec,
		log:       logutil.NoopIfNil(log),
		maxUpload: cfg.MaxUploadBytes,
		link:      cfg.Linker,
		now:       time.Now,
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadBytes
	}
	return s
}

// MaxUploadBytes is the largest accepted upload.
func (s *Service) MaxUploadBytes() int64 { return s.maxUpload }

// UploadParams describes an upload. Size may be -1 when unknown.
type UploadParams struct {
	Name     string
	MimeType string
	Size     int64
	FolderID string
	Body     io.Reader
}

// Upload stores the contents and creates the file record.
func (s *Service) Upload(ctx context.Context, owner string, p UploadParams) (*File, error) {
	name, err := cleanName("name", p.Name)
	if err != nil {
		return nil, err
	}
	if p.Size > s.maxUpload {
		return nil, apperr.Invalid("file", fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUpload))
	}
	folderID, err := s.checkFolder(ctx, owner, p.FolderID)
	if err != nil {
		return nil, err
	}

	body, mimeType, err := detectType(p.Body, name, p.MimeType)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	counted := &countingReader{r: io.LimitReader(body, s.maxUpload+1)}
	ref := owner + "/" + identity.NewID()
	if err := s.blobs.Put(ctx, ref, counted, p.Size, mimeType); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}
	if counted.n > s.maxUpload {
		s.blobs.Delete(ctx, ref)
		return nil, apperr.Invalid("file", fmt.Sprintf("file exceeds the %d byte upload limit", s.maxUpload))
	}

	now := s.now().UnixMilli()
	rec := &store.File{
		ID:         identity.NewID(),
		Owner:      owner,
		Name:       name,
		StorageRef: ref,
		MimeType:   mimeType,
		SizeBytes:  counted.n,
		FolderID:   folderID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateFile(ctx, rec); err != nil {
		s.blobs.Delete(ctx, ref)
		return nil, fmt.Errorf("create file: %w", err)
	}

	s.audit.Record(ctx, owner, audit.ActionFileUpload, audit.TargetFile, rec.ID, name)
	appctx.GetLogger(ctx).Info("file uploaded", "file_id", rec.ID, "size_bytes", rec.SizeBytes)
	return ToView(rec, s.link, s.now()), nil
}

// List returns the owner's files in folderID ("" for all folders).
func (s *Service) List(ctx context.Context, owner, folderID string) ([]*File, error) {
	recs, err := s.store.ListFiles(ctx, owner, folderID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	now := s.now()
	out := make([]*File, 0, len(recs))
	for _, rec := range recs {
		out = append(out, ToView(rec, s.link, now))
	}
	return out, nil
}

// Get returns a file owned by actor, with its share links.
func (s *Service) Get(ctx context.Context, actor, id string) (*File, error) {
	rec, err := s.Owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return ToView(rec, s.link, s.now()), nil
}

// Open returns a file owned by actor together with its contents.
func (s *Service) Open(ctx context.Context, actor, id string) (*File, io.ReadCloser, error) {
	rec, err := s.Owned(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.OpenBlob(ctx, rec.StorageRef)
	if err != nil {
		return nil, nil, err
	}
	return ToView(rec, s.link, s.now()), rc, nil
}

// OpenBlob opens stored contents by reference.
func (s *Service) OpenBlob(ctx context.Context, ref string) (io.ReadCloser, error) {
	rc, err := s.blobs.Open(ctx, ref)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	return rc, err
}

// Move places a file owned by actor into another folder.
func (s *Service) Move(ctx context.Context, actor, id, folderID string) (*File, error) {
	rec, err := s.Owned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	folderID, err = s.checkFolder(ctx, actor, folderID)
	if err != nil {
		return nil, err
	}
	rec.FolderID = folderID
	rec.UpdatedAt = s.now().UnixMilli()
	if err := s.store.UpdateFile(ctx, rec); err != nil {
		return nil, fmt.Errorf("move file: %w", err)
	}
	return ToView(rec, s.link, s.now()), nil
}

// Delete removes a file owned by actor with its share links and contents.
func (s *Service) Delete(ctx context.Context, actor, id string) error {
	rec, err := s.Owned(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteFile(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.ErrNotFound
		}
		return fmt.Errorf("delete file: %w", err)
	}
	if err := s.blobs.Delete(ctx, rec.StorageRef); err != nil {
		appctx.GetLogger(ctx).Warn("blob left behind after file delete", "file_id", id, "error", err)
	}
	s.audit.Record(ctx, actor, audit.ActionFileDelete, audit.TargetFile, id, rec.Name)
	return nil
}

// Owned loads a file and checks that actor owns it.
func (s *Service) Owned(ctx context.Context, actor, id string) (*store.File, error) {
	rec, err := s.store.GetFile(ctx, id)
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

// detectType keeps a declared type when it is specific, otherwise guesses
// from the extension and then from the first bytes of content.
func detectType(body io.Reader, name, declared string) (io.Reader, string, error) {
	if declared != "" && declared != "application/octet-stream" {
		return body, declared, nil
	}
	if byExt := mime.TypeByExtension(filepath.Ext(name)); byExt != "" {
		return body, byExt, nil
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, "", err
	}
	head = head[:n]
	return io.MultiReader(bytes.NewReader(head), body), mimetype.Detect(head).String(), nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
