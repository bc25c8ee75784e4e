// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package davfs stores blobs on a webdav.FileSystem: a directory on disk
// ("local") or an in-memory tree ("memory").
package davfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/net/webdav"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob"
)

func init() {
	blob.RegisterDriver("local", func(m map[string]any) (blob.Store, error) {
		var cfg struct {
			RootDir string `mapstructure:"root_dir"`
		}
		if err := mapstructure.WeakDecode(m, &cfg); err != nil {
			return nil, fmt.Errorf("decode local blob config: %w", err)
		}
		return NewLocal(cfg.RootDir)
	})
	blob.RegisterDriver("memory", func(map[string]any) (blob.Store, error) {
		return NewMemory(), nil
	})
}

// Store is a blob.Store over a webdav.FileSystem.
type Store struct {
	fs   webdav.FileSystem
	name string
}

// NewLocal stores blobs below rootDir, creating it if needed.
func NewLocal(rootDir string) (*Store, error) {
	if rootDir == "" {
		return nil, errors.New("local blob driver requires root_dir")
	}
	if err := os.MkdirAll(rootDir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{fs: webdav.Dir(rootDir), name: "local"}, nil
}

// NewMemory keeps blobs in memory. Contents are lost on restart.
func NewMemory() *Store {
	return &Store{fs: webdav.NewMemFS(), name: "memory"}
}

func (s *Store) Name() string { return s.name }

func (s *Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	name, err := fsName(key)
	if err != nil {
		return err
	}
	if err := s.mkdirAll(ctx, path.Dir(name)); err != nil {
		return err
	}

	f, err := s.fs.OpenFile(ctx, name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && size >= 0 && n != size {
		err = fmt.Errorf("short write: wrote %d of %d bytes", n, size)
	}
	if err != nil {
		s.fs.RemoveAll(ctx, name)
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := fsName(key)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.OpenFile(ctx, name, os.O_RDONLY, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blob.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	name, err := fsName(key)
	if err != nil {
		return err
	}
	if err := s.fs.RemoveAll(ctx, name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *Store) mkdirAll(ctx context.Context, dir string) error {
	cur := ""
	for _, seg := range strings.Split(strings.Trim(dir, "/"), "/") {
		if seg == "" {
			continue
		}
		cur += "/" + seg
		if err := s.fs.Mkdir(ctx, cur, 0o750); err != nil && !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("mkdir %s: %w", cur, err)
		}
	}
	return nil
}

func fsName(key string) (string, error) {
	cleaned, err := blob.CleanKey(key)
	if err != nil {
		return "", err
	}
	return "/" + cleaned, nil
}

var _ blob.Store = (*Store)(nil)
