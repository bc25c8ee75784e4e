// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package tls

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/config"
)

// Config keys reported in root CA errors.
const (
	rootCAFileKey = "tls.root_ca_file"
	rootCADirKey  = "tls.root_ca_dir"
)

// ErrNoCertificates is returned when a configured CA file holds no PEM certificate.
var ErrNoCertificates = errors.New("no valid PEM certificates found")

// RootCAPool returns the roots used to reach the ACME directory: the system
// pool extended with tls.root_ca_file and every .pem or .crt file directly
// under tls.root_ca_dir. It returns nil when neither is set.
func RootCAPool(cfg *config.TLSConfig) (*x509.CertPool, error) {
	if cfg == nil || (cfg.RootCAFile == "" && cfg.RootCADir == "") {
		return nil, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	if cfg.RootCAFile != "" {
		if err := appendPEMFile(pool, cfg.RootCAFile); err != nil {
			return nil, fmt.Errorf("%s: %w", rootCAFileKey, err)
		}
	}
	if cfg.RootCADir != "" {
		paths, err := caFiles(cfg.RootCADir)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rootCADirKey, err)
		}
		for _, path := range paths {
			if err := appendPEMFile(pool, path); err != nil {
				return nil, fmt.Errorf("%s: %w", rootCADirKey, err)
			}
		}
	}
	return pool, nil
}

// caFiles lists the regular .pem and .crt files in dir, sorted. Symlinks and
// subdirectories are skipped.
func caFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".pem", ".crt":
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

func appendPEMFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %q: %w", path, err)
	}
	if !pool.AppendCertsFromPEM(data) {
		return fmt.Errorf("%q: %w", path, ErrNoCertificates)
	}
	return nil
}
