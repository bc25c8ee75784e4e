// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package json_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/testutil"
)

func TestJSONDriver(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "vaultshare-test-json-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(tempDir)

	cfg := &store.DriverConfig{
		Driver:  "json",
		DataDir: tempDir,
	}

	testutil.RunDriverTests(t, "json", cfg)

	if _, err := os.Stat(filepath.Join(tempDir, "files.json")); os.IsNotExist(err) {
		t.Error("files.json not created")
	}
}

func TestJSONDriverSurvivesRestart(t *testing.T) {
	tempDir := t.TempDir()
	ctx := context.Background()
	cfg := &store.DriverConfig{Driver: "json", DataDir: tempDir}

	driver, err := store.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatal(err)
	}

	f := testutil.TestFile("file-restart", "alice")
	if err := driver.CreateFile(ctx, f); err != nil {
		t.Fatal(err)
	}
	if err := driver.AddShareLink(ctx, testutil.TestShareLink("link-restart", f.ID, "token-restart", 2)); err != nil {
		t.Fatal(err)
	}
	driver.Close()

	driver2, err := store.New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver2.Init(ctx); err != nil {
		t.Fatal(err)
	}
	defer driver2.Close()

	link, err := driver2.GetShareLinkByToken(ctx, "token-restart")
	if err != nil {
		t.Fatalf("link not found after restart: %v", err)
	}
	if link.FileID != f.ID {
		t.Errorf("data corruption: expected file %q, got %q", f.ID, link.FileID)
	}
}

func TestJSONDriverClosed(t *testing.T) {
	ctx := context.Background()
	driver, err := store.New(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Init(ctx); err != nil {
		t.Fatal(err)
	}
	driver.Close()

	if _, err := driver.GetFile(ctx, "anything"); err != store.ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestJSONDriverRequiresDataDir(t *testing.T) {
	if _, err := store.New(&store.DriverConfig{Driver: "json"}); err == nil {
		t.Fatal("expected error without data_dir")
	}
}
