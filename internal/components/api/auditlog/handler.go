// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package auditlog serves the caller's audit trail.
package auditlog

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/audit"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// MaxLimit caps ?limit=.
const MaxLimit = 500

// Handler serves GET /api/audit.
type Handler struct {
	audit       *audit.Recorder
	currentUser func(context.Context) (*identity.User, error)
	log         *slog.Logger
}

// NewHandler creates the audit handler.
func NewHandler(rec *audit.Recorder, currentUser func(context.Context) (*identity.User, error), log *slog.Logger) *Handler {
	return &Handler{audit: rec, currentUser: currentUser, log: logutil.NoopIfNil(log)}
}

// HandleList handles GET /api/audit?limit=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return
	}

	limit := audit.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			api.WriteBadRequest(w, api.ReasonInvalidField, "limit must be a positive integer")
			return
		}
		limit = min(n, MaxLimit)
	}

	entries, err := h.audit.List(r.Context(), user.ID, limit)
	if err != nil {
		h.log.Error("failed to list audit entries", "error", err)
		api.WriteInternalError(w, "failed to list audit entries")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
