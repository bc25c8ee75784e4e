// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package service

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// CoreServices lists service names that are always constructed regardless of
// whether [http.services.<name>] appears in TOML, in mount order.
var CoreServices = []string{"api", "share"}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewService)
)

// Register registers a new HTTP service constructor by name.
// This is typically called from init() in service packages.
// Duplicate registration returns an error (fail-fast, no panic).
func Register(name string, newFunc NewService) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return fmt.Errorf("service %q already registered", name)
	}
	registry[name] = newFunc
	return nil
}

// MustRegister is like Register but panics on error.
// Use this in init() where returning an error is not possible.
func MustRegister(name string, newFunc NewService) {
	if err := Register(name, newFunc); err != nil {
		panic(err)
	}
}

// Get returns the constructor for a registered service.
// Returns nil if the service is not registered.
func Get(name string) NewService {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[name]
}

// RegisteredServices returns the sorted names of all registered services.
func RegisteredServices() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildAll constructs every core service, passing each its raw config from
// confs (nil when the service has no [http.services.<name>] section).
func BuildAll(confs func(name string) map[string]any, log *slog.Logger) (map[string]Service, error) {
	built := make(map[string]Service, len(CoreServices))
	for _, name := range CoreServices {
		newFunc := Get(name)
		if newFunc == nil {
			return nil, fmt.Errorf("core service %q is not registered", name)
		}
		svc, err := newFunc(confs(name), log.With("service", name))
		if err != nil {
			return nil, fmt.Errorf("failed to create service %q: %w", name, err)
		}
		built[name] = svc
	}
	return built, nil
}

// resetRegistry is for testing only. Clears the registry.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]NewService)
}
