// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package files

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// RootFolder is the implicit top-level folder of every owner.
const RootFolder = "root"

const maxNameLength = 255

func cleanName(field, name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", apperr.Invalid(field, field+" is required")
	case len(name) > maxNameLength:
		return "", apperr.Invalid(field, fmt.Sprintf("%s must be at most %d bytes", field, maxNameLength))
	case strings.ContainsAny(name, "/\\\x00"):
		return "", apperr.Invalid(field, field+" must not contain path separators")
	}
	return name, nil
}

// CreateFolder creates a folder under parentID ("" or "root" for the top level).
func (s *Service) CreateFolder(ctx context.Context, owner, name, parentID string) (*Folder, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return nil, err
	}
	parentID, err = s.checkFolder(ctx, owner, parentID)
	if err != nil {
		return nil, err
	}

	rec := &store.Folder{
		ID:        identity.NewID(),
		Owner:     owner,
		Name:      name,
		ParentID:  parentID,
		CreatedAt: s.now().UnixMilli(),
	}
	if err := s.store.CreateFolder(ctx, rec); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	return folderView(rec), nil
}

// ListFolders returns all of the owner's folders.
func (s *Service) ListFolders(ctx context.Context, owner string) ([]*Folder, error) {
	recs, err := s.store.ListFolders(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	out := make([]*Folder, 0, len(recs))
	for _, rec := range recs {
		out = append(out, folderView(rec))
	}
	return out, nil
}

// RenameFolder renames a folder owned by actor.
func (s *Service) RenameFolder(ctx context.Context, actor, id, name string) (*Folder, error) {
	name, err := cleanName("name", name)
	if err != nil {
		return nil, err
	}
	rec, err := s.ownedFolder(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	rec.Name = name
	if err := s.store.UpdateFolder(ctx, rec); err != nil {
		return nil, fmt.Errorf("rename folder: %w", err)
	}
	return folderView(rec), nil
}

// DeleteFolder removes an empty folder owned by actor.
func (s *Service) DeleteFolder(ctx context.Context, actor, id string) error {
	if _, err := s.ownedFolder(ctx, actor, id); err != nil {
		return err
	}
	n, err := s.store.CountFolderEntries(ctx, id)
	if err != nil {
		return fmt.Errorf("count folder entries: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: folder is not empty", apperr.ErrConflict)
	}
	if err := s.store.DeleteFolder(ctx, id); err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	return nil
}

// checkFolder normalizes a folder reference and verifies ownership.
func (s *Service) checkFolder(ctx context.Context, owner, id string) (string, error) {
	if id == "" || id == RootFolder {
		return RootFolder, nil
	}
	if _, err := s.ownedFolder(ctx, owner, id); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", apperr.Invalid("folder_id", "folder does not exist")
		}
		return "", err
	}
	return id, nil
}

func (s *Service) ownedFolder(ctx context.Context, actor, id string) (*store.Folder, error) {
	rec, err := s.store.GetFolder(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get folder: %w", err)
	}
	if rec.Owner != actor {
		return nil, apperr.ErrUnauthorized
	}
	return rec, nil
}
