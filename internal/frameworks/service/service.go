// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package service defines the HTTP service contract and the registry the
// server builds its routes from.
package service

import (
	"log/slog"
	"net/http"
)

// Service is an HTTP service mounted by the server under its prefix.
type Service interface {
	Handler() http.Handler
	// Prefix is the first path segment the service is mounted at, without slashes.
	Prefix() string
	Close() error
	// Unprotected lists paths, relative to the prefix, that skip the session gate.
	Unprotected() []string
}

// Lockable is implemented by services that refuse some of their paths while
// the caller's vault session is locked.
type Lockable interface {
	// LockExempt lists paths, relative to the prefix, that stay reachable
	// with a locked session.
	LockExempt() []string
}

// NewService is the constructor function type for services.
type NewService func(conf map[string]any, log *slog.Logger) (Service, error)
