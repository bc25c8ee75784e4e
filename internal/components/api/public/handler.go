// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package public serves share links to anonymous link holders.
package public

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	apifiles "github.com/MahdiBaghbani/vaultshare-go/internal/components/api/files"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/sharelink"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// ResolveRequest is the optional body of POST /s/{token}.
type ResolveRequest struct {
	Password string `json:"password"`
}

// Handler serves /s/{token}.
type Handler struct {
	links *sharelink.Service
	log   *slog.Logger
}

// NewHandler creates the public share handler.
func NewHandler(links *sharelink.Service, log *slog.Logger) *Handler {
	return &Handler{links: links, log: logutil.NoopIfNil(log)}
}

// HandleResolve handles POST /s/{token}.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if r.ContentLength != 0 && !api.DecodeJSON(w, r, &req) {
		return
	}

	res, err := h.links.Resolve(r.Context(), chi.URLParam(r, "token"), req.Password)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			api.WriteUnauthorized(w, api.ReasonInvalidCredentials, "password required or incorrect")
			return
		}
		h.fail(w, "resolve share link", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, res)
}

// HandleContent handles GET /s/{token}/content?ticket=. View links are served
// inline, every other permission as an attachment.
func (h *Handler) HandleContent(w http.ResponseWriter, r *http.Request) {
	ticket := r.URL.Query().Get("ticket")
	if ticket == "" {
		api.WriteUnauthorized(w, api.ReasonUnauthorized, "download ticket required")
		return
	}

	f, perm, rc, err := h.links.Content(r.Context(), chi.URLParam(r, "token"), ticket)
	if err != nil {
		if errors.Is(err, apperr.ErrUnauthorized) {
			api.WriteUnauthorized(w, api.ReasonUnauthorized, "invalid or expired download ticket")
			return
		}
		h.fail(w, "open shared content", err)
		return
	}
	defer rc.Close()
	apifiles.ServeContent(w, r, h.log, f.Name, f.MimeType, f.SizeBytes, perm != sharelink.PermissionView, rc)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if api.IsInternal(err) {
		h.log.Error("failed to "+op, "error", err)
	}
	api.WriteServiceError(w, err)
}
