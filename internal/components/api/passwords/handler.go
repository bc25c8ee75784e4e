// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package passwords implements the password vault, generator and strength handlers.
package passwords

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/credentials"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/strength"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// StrengthRequest is the body of POST /api/passwords/strength.
type StrengthRequest struct {
	Secret string `json:"secret"`
}

// GenerateRequest is the body of POST /api/passwords/generate.
// Omitted fields take the default policy.
type GenerateRequest struct {
	Length    *int  `json:"length"`
	Uppercase *bool `json:"uppercase"`
	Lowercase *bool `json:"lowercase"`
	Digits    *bool `json:"digits"`
	Symbols   *bool `json:"symbols"`
}

// GenerateResponse carries a generated password and its score.
type GenerateResponse struct {
	Password string          `json:"password"`
	Strength strength.Result `json:"strength"`
}

// CredentialRequest is the body of POST /api/passwords.
type CredentialRequest struct {
	Website  string `json:"website" validate:"required,max=255"`
	URL      string `json:"url" validate:"omitempty,url,max=2048"`
	Username string `json:"username" validate:"required,max=255"`
	Secret   string `json:"secret" validate:"required,max=1024"`
	Category string `json:"category" validate:"max=64"`
	Notes    string `json:"notes" validate:"max=4096"`
}

// PatchRequest is the body of PUT /api/passwords/{id}. Omitted fields are kept.
type PatchRequest struct {
	Website  *string `json:"website" validate:"omitempty,max=255"`
	URL      *string `json:"url" validate:"omitempty,max=2048"`
	Username *string `json:"username" validate:"omitempty,max=255"`
	Secret   *string `json:"secret" validate:"omitempty,max=1024"`
	Category *string `json:"category" validate:"omitempty,max=64"`
	Notes    *string `json:"notes" validate:"omitempty,max=4096"`
}

// ListResponse wraps credential lists.
type ListResponse struct {
	Credentials []*credentials.Credential `json:"credentials"`
}

// Handler serves the /api/passwords endpoints.
type Handler struct {
	svc         *credentials.Service
	currentUser func(context.Context) (*identity.User, error)
	log         *slog.Logger
}

// NewHandler creates the passwords handler.
func NewHandler(svc *credentials.Service, currentUser func(context.Context) (*identity.User, error), log *slog.Logger) *Handler {
	return &Handler{svc: svc, currentUser: currentUser, log: logutil.NoopIfNil(log)}
}

// HandleStrength handles POST /api/passwords/strength.
func (h *Handler) HandleStrength(w http.ResponseWriter, r *http.Request) {
	var req StrengthRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	api.WriteJSON(w, http.StatusOK, strength.Evaluate(req.Secret))
}

// HandleGenerate handles POST /api/passwords/generate. An empty body uses the default policy.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if r.ContentLength != 0 && !api.DecodeJSON(w, r, &req) {
		return
	}

	p := strength.DefaultPolicy()
	if req.Length != nil {
		p.Length = *req.Length
	}
	for _, f := range []struct {
		src *bool
		dst *bool
	}{
		{req.Uppercase, &p.Uppercase},
		{req.Lowercase, &p.Lowercase},
		{req.Digits, &p.Digits},
		{req.Symbols, &p.Symbols},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}

	pw, err := strength.Generate(p)
	if err != nil {
		api.WriteServiceError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, GenerateResponse{Password: pw, Strength: strength.Evaluate(pw)})
}

// HandleList handles GET /api/passwords?search=&category=&sort=.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	list, err := h.svc.List(r.Context(), user.ID, credentials.Filter{
		Search:   q.Get("search"),
		Category: q.Get("category"),
		Sort:     q.Get("sort"),
	})
	if err != nil {
		h.fail(w, r, "list credentials", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, ListResponse{Credentials: list})
}

// HandleCreate handles POST /api/passwords.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req CredentialRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Create(r.Context(), user.ID, credentials.Input{
		Website:  req.Website,
		URL:      req.URL,
		Username: req.Username,
		Secret:   req.Secret,
		Category: req.Category,
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, r, "create credential", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, c)
}

// HandleGet handles GET /api/passwords/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	c, err := h.svc.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "get credential", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

// HandleUpdate handles PUT /api/passwords/{id}.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req PatchRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	c, err := h.svc.Update(r.Context(), user.ID, chi.URLParam(r, "id"), credentials.Patch{
		Website:  req.Website,
		URL:      req.URL,
		Username: req.Username,
		Secret:   req.Secret,
		Category: req.Category,
		Notes:    req.Notes,
	})
	if err != nil {
		h.fail(w, r, "update credential", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, c)
}

// HandleDelete handles DELETE /api/passwords/{id}.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.svc.Delete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "delete credential", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCategories handles GET /api/passwords/categories.
func (h *Handler) HandleCategories(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	cats, err := h.svc.Categories(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, "list categories", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string][]string{"categories": cats})
}

// HandleOverview handles GET /api/passwords/overview.
func (h *Handler) HandleOverview(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	ov, err := h.svc.Overview(r.Context(), user.ID)
	if err != nil {
		h.fail(w, r, "compute overview", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, ov)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	user, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return nil, false
	}
	return user, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if api.IsInternal(err) {
		h.log.Error("failed to "+op, "error", err)
	}
	api.WriteServiceError(w, err)
}
