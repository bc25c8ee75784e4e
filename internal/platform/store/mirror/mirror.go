// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package mirror implements a SQLite + JSON mirror persistence driver.
// SQLite is the source of truth; JSON is a one-way, redacted export for
// operator visibility. The program MUST NOT read JSON as input.
//
// Vault secrets and chat messages are never exported. Password hashes and
// share tokens are blanked in the export.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/sqlite"
)

func init() {
	store.Register("mirror", NewDriver)
}

// Dir is the export directory inside the data dir.
const Dir = "mirror"

// Driver delegates to the sqlite driver and exports after each write that
// touches an exported table.
type Driver struct {
	store.Store
	dataDir string
	mu      sync.Mutex // serializes exports
}

// NewDriver creates a new mirror driver instance.
func NewDriver(cfg *store.DriverConfig) (store.Store, error) {
	inner, err := sqlite.NewDriver(cfg)
	if err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}
	return &Driver{Store: inner, dataDir: cfg.DataDir}, nil
}

// Name returns the driver name.
func (d *Driver) Name() string {
	return "mirror"
}

// Init initializes the SQLite database and writes the initial export.
func (d *Driver) Init(ctx context.Context) error {
	if err := d.Store.Init(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(d.dataDir, Dir), 0700); err != nil {
		return fmt.Errorf("failed to create mirror dir: %w", err)
	}
	if err := d.exportAll(ctx); err != nil {
		return fmt.Errorf("failed to export mirror: %w", err)
	}
	return nil
}

// snapshot is the exported view, keyed by file name.
type snapshot struct {
	users   []*store.User
	folders []*store.Folder
	files   []*store.File
	audit   []*store.AuditEntry
}

// exportAll rewrites every export file from the database.
func (d *Driver) exportAll(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snap, err := d.collect(ctx)
	if err != nil {
		return err
	}
	for name, data := range map[string]any{
		"users.json":   snap.users,
		"folders.json": snap.folders,
		"files.json":   snap.files,
		"audit.json":   snap.audit,
	} {
		if err := d.writeJSON(name, data); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) collect(ctx context.Context) (*snapshot, error) {
	users, err := d.Store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	snap := &snapshot{
		users:   make([]*store.User, 0, len(users)),
		folders: []*store.Folder{},
		files:   []*store.File{},
		audit:   []*store.AuditEntry{},
	}
	for _, u := range users {
		redacted := *u
		redacted.PasswordHash = ""
		snap.users = append(snap.users, &redacted)

		folders, err := d.Store.ListFolders(ctx, u.ID)
		if err != nil {
			return nil, err
		}
		snap.folders = append(snap.folders, folders...)

		files, err := d.Store.ListFiles(ctx, u.ID, "")
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			full, err := d.Store.GetFile(ctx, f.ID)
			if err != nil {
				return nil, err
			}
			for i := range full.ShareLinks {
				full.ShareLinks[i].Token = ""
				full.ShareLinks[i].PasswordHash = ""
			}
			snap.files = append(snap.files, full)
		}

		entries, err := d.Store.ListAudit(ctx, u.ID, 0)
		if err != nil {
			return nil, err
		}
		snap.audit = append(snap.audit, entries...)
	}
	return snap, nil
}

// writeJSON atomically writes data to a JSON file in the mirror directory.
func (d *Driver) writeJSON(filename string, data any) error {
	path := filepath.Join(d.dataDir, Dir, filename)
	tempPath := path + ".tmp"

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := f.Write(jsonData); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// after exports once a write succeeded and passes the write error through.
func (d *Driver) after(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return d.exportAll(ctx)
}

func (d *Driver) CreateUser(ctx context.Context, u *store.User) error {
	return d.after(ctx, d.Store.CreateUser(ctx, u))
}

func (d *Driver) UpdateUser(ctx context.Context, u *store.User) error {
	return d.after(ctx, d.Store.UpdateUser(ctx, u))
}

func (d *Driver) DeleteUser(ctx context.Context, id string) error {
	return d.after(ctx, d.Store.DeleteUser(ctx, id))
}

func (d *Driver) CreateFolder(ctx context.Context, f *store.Folder) error {
	return d.after(ctx, d.Store.CreateFolder(ctx, f))
}

func (d *Driver) UpdateFolder(ctx context.Context, f *store.Folder) error {
	return d.after(ctx, d.Store.UpdateFolder(ctx, f))
}

func (d *Driver) DeleteFolder(ctx context.Context, id string) error {
	return d.after(ctx, d.Store.DeleteFolder(ctx, id))
}

func (d *Driver) CreateFile(ctx context.Context, f *store.File) error {
	return d.after(ctx, d.Store.CreateFile(ctx, f))
}

func (d *Driver) UpdateFile(ctx context.Context, f *store.File) error {
	return d.after(ctx, d.Store.UpdateFile(ctx, f))
}

func (d *Driver) DeleteFile(ctx context.Context, id string) error {
	return d.after(ctx, d.Store.DeleteFile(ctx, id))
}

func (d *Driver) AddShareLink(ctx context.Context, l *store.ShareLink) error {
	return d.after(ctx, d.Store.AddShareLink(ctx, l))
}

func (d *Driver) DeleteShareLink(ctx context.Context, fileID, linkID string) error {
	return d.after(ctx, d.Store.DeleteShareLink(ctx, fileID, linkID))
}

func (d *Driver) ConsumeShareLink(ctx context.Context, linkID string, now time.Time) (*store.ShareLink, error) {
	l, err := d.Store.ConsumeShareLink(ctx, linkID, now)
	if err != nil {
		return nil, err
	}
	return l, d.exportAll(ctx)
}

func (d *Driver) PurgeShareLinks(ctx context.Context, now time.Time) (int, error) {
	n, err := d.Store.PurgeShareLinks(ctx, now)
	if err != nil || n == 0 {
		return n, err
	}
	return n, d.exportAll(ctx)
}

func (d *Driver) AppendAudit(ctx context.Context, e *store.AuditEntry) error {
	return d.after(ctx, d.Store.AppendAudit(ctx, e))
}

var _ store.Store = (*Driver)(nil)
