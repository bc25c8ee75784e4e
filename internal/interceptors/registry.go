// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package interceptors

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]NewInterceptor)
)

// Register registers an interceptor constructor by name. Called from init().
func Register(name string, fn NewInterceptor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = fn
}

// Get returns the interceptor constructor for the given name.
func Get(name string) (NewInterceptor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the sorted names of all registered interceptors.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs the named interceptor from conf.
func Build(name string, conf map[string]any, log *slog.Logger) (Middleware, error) {
	fn, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("interceptor %q not registered", name)
	}
	mw, err := fn(conf, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s interceptor: %w", name, err)
	}
	return mw, nil
}

// BuildProfile constructs the named interceptor from one of its profiles.
func BuildProfile(interceptorsCfg map[string]map[string]any, name, profile string, log *slog.Logger) (Middleware, error) {
	conf, err := GetProfileConfig(interceptorsCfg, name, profile)
	if err != nil {
		return nil, err
	}
	return Build(name, conf, log)
}
