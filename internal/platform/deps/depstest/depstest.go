// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package depstest installs fully wired shared deps backed by a temporary
// json store, in-memory blobs and an in-memory cache.
package depstest

import (
	"context"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/blob/davfs"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/cache/memory"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/config"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/crypto"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/deps"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	jsonstore "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
)

// Setup builds deps from cfg (DevConfig when nil), installs them with
// deps.SetDeps and resets them when the test ends.
func Setup(t *testing.T, cfg *config.Config) *deps.Deps {
	t.Helper()
	if cfg == nil {
		cfg = config.DevConfig()
	}

	st, err := jsonstore.NewDriver(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	c := memory.New(0, 0)

	d, err := deps.Build(cfg, deps.Backends{
		Store:      st,
		Blobs:      davfs.NewMemory(),
		Cache:      c,
		Keys:       crypto.NewKeyManager(""),
		UserAuth:   identity.NewUserAuthFast(),
		BcryptCost: bcrypt.MinCost,
	}, nil)
	if err != nil {
		t.Fatalf("failed to build deps: %v", err)
	}

	deps.ResetDeps()
	deps.SetDeps(d)
	t.Cleanup(func() {
		deps.ResetDeps()
		c.Close()
		st.Close()
	})
	return d
}
