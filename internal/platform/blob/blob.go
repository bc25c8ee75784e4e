// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package blob stores uploaded file contents behind a driver registry.
// File metadata lives in the store; a blob is addressed only by its key.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store holds opaque file contents.
type Store interface {
	// Put writes the contents of r under key, replacing any previous blob.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Open returns a reader for the blob. Returns ErrNotFound if absent.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name returns the driver name.
	Name() string
}

// Presigner is implemented by drivers that can hand out time-limited direct
// download URLs, letting the server redirect instead of proxying bytes.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// CleanKey validates a key of the form "<owner>/<id>" and returns it cleaned.
func CleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", ErrInvalidKey
		}
	}
	return cleaned, nil
}

// DriverFactory builds a Store from its [blobs.drivers.<name>] section.
type DriverFactory func(config map[string]any) (Store, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]DriverFactory)
)

// RegisterDriver makes a blob driver available by name.
func RegisterDriver(name string, factory DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[name] = factory
}

// AvailableDrivers returns registered driver names, sorted.
func AvailableDrivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig builds the named driver. An empty name selects "local".
func NewFromConfig(name string, driverConfigs map[string]map[string]any) (Store, error) {
	if name == "" {
		name = "local"
	}

	driversMu.RLock()
	factory, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown blob driver %q (available: %v)", name, AvailableDrivers())
	}

	cfg := driverConfigs[name]
	if cfg == nil {
		cfg = map[string]any{}
	}
	return factory(cfg)
}
