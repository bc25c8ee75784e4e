// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/testutil"
)

// dsnEnv names a disposable database; the suite drops every table first.
const dsnEnv = "VAULTSHARE_TEST_POSTGRES_DSN"

func TestPostgresDriver(t *testing.T) {
	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			t.Fatalf("drop %s: %v", table, err)
		}
	}
	pool.Close()

	testutil.RunDriverTests(t, "postgres", &store.DriverConfig{Driver: "postgres", DSN: dsn})
}

func TestNewDriver_RequiresDSN(t *testing.T) {
	if _, err := NewDriver(&store.DriverConfig{Driver: "postgres"}); err == nil {
		t.Fatal("expected error without dsn")
	}
}
