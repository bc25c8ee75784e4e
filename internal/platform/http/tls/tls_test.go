// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package tls

import (
	"bytes"
	"crypto/x509"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTLSManager_Modes(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TLSConfig
		wantNil bool
		wantErr error
	}{
		{name: "off", cfg: config.TLSConfig{Mode: "off"}, wantNil: true},
		{name: "static without files", cfg: config.TLSConfig{Mode: "static"}, wantErr: ErrMissingCert},
		{name: "invalid", cfg: config.TLSConfig{Mode: "invalid"}, wantErr: ErrInvalidTLSMode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			got, err := NewTLSManager(&cfg, quietLogger()).GetTLSConfig("localhost")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil && got != nil {
				t.Error("expected nil TLS config")
			}
		})
	}
}

func TestTLSManager_ACMEIsNotServedHere(t *testing.T) {
	cfg := &config.TLSConfig{Mode: "acme"}
	if _, err := NewTLSManager(cfg, nil).GetTLSConfig("vault.example.com"); err == nil {
		t.Fatal("expected error for acme mode")
	}
}

func TestTLSManager_SelfSigned_GenerateAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TLSConfig{Mode: "selfsigned", SelfSignedDir: dir}
	mgr := NewTLSManager(cfg, quietLogger())

	first, err := mgr.GetTLSConfig("vault.example.com")
	if err != nil {
		t.Fatalf("GetTLSConfig failed: %v", err)
	}
	if len(first.Certificates) != 1 {
		t.Fatalf("expected one certificate, got %d", len(first.Certificates))
	}

	leaf, err := x509.ParseCertificate(first.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if err := leaf.VerifyHostname("vault.example.com"); err != nil {
		t.Errorf("certificate does not cover hostname: %v", err)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate does not cover localhost: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "server.key"))
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected key mode 0600, got %o", info.Mode().Perm())
	}

	second, err := mgr.GetTLSConfig("vault.example.com")
	if err != nil {
		t.Fatalf("second GetTLSConfig failed: %v", err)
	}
	if !bytes.Equal(first.Certificates[0].Certificate[0], second.Certificates[0].Certificate[0]) {
		t.Error("expected the stored certificate to be reused")
	}
}

func TestTLSManager_SelfSigned_RegeneratesNearExpiry(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.TLSConfig{Mode: "selfsigned", SelfSignedDir: dir}
	mgr := NewTLSManager(cfg, quietLogger())

	// Issue a certificate that is already inside the renewal window.
	mgr.now = func() time.Time { return time.Now().Add(-selfSignedValidity + 24*time.Hour) }
	old, err := mgr.GetTLSConfig("localhost")
	if err != nil {
		t.Fatalf("GetTLSConfig failed: %v", err)
	}

	mgr.now = time.Now
	fresh, err := mgr.GetTLSConfig("localhost")
	if err != nil {
		t.Fatalf("GetTLSConfig failed: %v", err)
	}
	if bytes.Equal(old.Certificates[0].Certificate[0], fresh.Certificates[0].Certificate[0]) {
		t.Error("expected a new certificate near expiry")
	}
}

func TestTLSManager_Static_LoadsGeneratedPair(t *testing.T) {
	dir := t.TempDir()
	gen := NewTLSManager(&config.TLSConfig{Mode: "selfsigned", SelfSignedDir: dir}, quietLogger())
	if _, err := gen.GetTLSConfig("localhost"); err != nil {
		t.Fatalf("generate: %v", err)
	}

	cfg := &config.TLSConfig{
		Mode:     "static",
		CertFile: filepath.Join(dir, "server.crt"),
		KeyFile:  filepath.Join(dir, "server.key"),
	}
	got, err := NewTLSManager(cfg, quietLogger()).GetTLSConfig("localhost")
	if err != nil {
		t.Fatalf("static load failed: %v", err)
	}
	if len(got.Certificates) != 1 {
		t.Errorf("expected one certificate, got %d", len(got.Certificates))
	}
}
