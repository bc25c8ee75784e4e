// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package files implements the folder, file and share-link owner handlers.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/files"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/sharelink"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// multipartOverhead is the slack allowed above the upload limit for form boundaries and fields.
const multipartOverhead = 1 << 20

// FolderRequest is the body of POST and PUT /api/folders.
type FolderRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	ParentID string `json:"parent_id"`
}

// MoveRequest is the body of PUT /api/files/{id}/folder.
type MoveRequest struct {
	FolderID string `json:"folder_id"`
}

// ShareRequest is the body of POST /api/files/{id}/share.
type ShareRequest struct {
	Recipients        []string   `json:"recipients" validate:"max=50,dive,max=254"`
	Team              string     `json:"team" validate:"max=128"`
	Permission        string     `json:"permission" validate:"omitempty,oneof=view download edit"`
	ExpiresAt         *time.Time `json:"expires_at"`
	PasswordProtected bool       `json:"password_protected"`
	Password          string     `json:"password" validate:"max=72"`
	DownloadLimit     int        `json:"download_limit" validate:"min=0,max=10000"`
}

// Handler serves /api/folders and /api/files.
type Handler struct {
	files       *files.Service
	links       *sharelink.Service
	currentUser func(context.Context) (*identity.User, error)
	log         *slog.Logger
}

// NewHandler creates the files handler.
func NewHandler(fs *files.Service, links *sharelink.Service, currentUser func(context.Context) (*identity.User, error), log *slog.Logger) *Handler {
	return &Handler{files: fs, links: links, currentUser: currentUser, log: logutil.NoopIfNil(log)}
}

// HandleListFolders handles GET /api/folders.
func (h *Handler) HandleListFolders(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	folders, err := h.files.ListFolders(r.Context(), user.ID)
	if err != nil {
		h.fail(w, "list folders", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"folders": folders})
}

// HandleCreateFolder handles POST /api/folders.
func (h *Handler) HandleCreateFolder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req FolderRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	folder, err := h.files.CreateFolder(r.Context(), user.ID, req.Name, req.ParentID)
	if err != nil {
		h.fail(w, "create folder", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, folder)
}

// HandleRenameFolder handles PUT /api/folders/{id}.
func (h *Handler) HandleRenameFolder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req FolderRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	folder, err := h.files.RenameFolder(r.Context(), user.ID, chi.URLParam(r, "id"), req.Name)
	if err != nil {
		h.fail(w, "rename folder", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, folder)
}

// HandleDeleteFolder handles DELETE /api/folders/{id}.
func (h *Handler) HandleDeleteFolder(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.files.DeleteFolder(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete folder", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListFiles handles GET /api/files?folder_id=.
func (h *Handler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	list, err := h.files.List(r.Context(), user.ID, r.URL.Query().Get("folder_id"))
	if err != nil {
		h.fail(w, "list files", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"files": list})
}

// HandleUpload handles POST /api/files. The form carries a "file" part and an
// optional "folder_id" field.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	limit := h.files.MaxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.WriteError(w, http.StatusRequestEntityTooLarge, api.ReasonTooLarge,
				fmt.Sprintf("file exceeds the %d byte upload limit", limit))
			return
		}
		api.WriteBadRequest(w, api.ReasonBadRequest, "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	part, header, err := r.FormFile("file")
	if err != nil {
		api.WriteBadRequest(w, api.ReasonMissingField, "file is required")
		return
	}
	defer part.Close()

	f, err := h.files.Upload(r.Context(), user.ID, files.UploadParams{
		Name:     header.Filename,
		MimeType: header.Header.Get("Content-Type"),
		Size:     header.Size,
		FolderID: r.FormValue("folder_id"),
		Body:     part,
	})
	if err != nil {
		h.fail(w, "upload file", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, f)
}

// HandleGetFile handles GET /api/files/{id}.
func (h *Handler) HandleGetFile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	f, err := h.files.Get(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get file", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, f)
}

// HandleDownload handles GET /api/files/{id}/content.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	f, rc, err := h.files.Open(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "open file", err)
		return
	}
	defer rc.Close()
	ServeContent(w, r, h.log, f.Name, f.MimeType, f.SizeBytes, true, rc)
}

// HandleMove handles PUT /api/files/{id}/folder.
func (h *Handler) HandleMove(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req MoveRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	f, err := h.files.Move(r.Context(), user.ID, chi.URLParam(r, "id"), req.FolderID)
	if err != nil {
		h.fail(w, "move file", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, f)
}

// HandleDeleteFile handles DELETE /api/files/{id}.
func (h *Handler) HandleDeleteFile(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	if err := h.files.Delete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		h.fail(w, "delete file", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleListLinks handles GET /api/files/{id}/share.
func (h *Handler) HandleListLinks(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	links, err := h.links.List(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "list share links", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"share_links": links})
}

// HandleShare handles POST /api/files/{id}/share.
func (h *Handler) HandleShare(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req ShareRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}

	p := sharelink.IssueParams{
		Recipients:        req.Recipients,
		Team:              req.Team,
		Permission:        req.Permission,
		PasswordProtected: req.PasswordProtected,
		Password:          req.Password,
		DownloadLimit:     req.DownloadLimit,
	}
	if req.ExpiresAt != nil {
		p.ExpiresAt = *req.ExpiresAt
	}
	issued, err := h.links.Issue(r.Context(), user.ID, chi.URLParam(r, "id"), p)
	if err != nil {
		h.fail(w, "issue share link", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, issued)
}

// HandleRevoke handles DELETE /api/files/{id}/share/{linkId}.
func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	f, err := h.links.Revoke(r.Context(), user.ID, chi.URLParam(r, "id"), chi.URLParam(r, "linkId"))
	if err != nil {
		h.fail(w, "revoke share link", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, f)
}

// ServeContent streams a blob with download headers. attachment selects
// Content-Disposition attachment over inline.
func ServeContent(w http.ResponseWriter, r *http.Request, log *slog.Logger, name, mimeType string, size int64, attachment bool, body io.Reader) {
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Disposition", disposition+"; filename="+strconv.Quote(name))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, no-store")
	if size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, body); err != nil {
		log.Warn("content stream interrupted", "error", err)
	}
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (*identity.User, bool) {
	user, err := h.currentUser(r.Context())
	if err != nil {
		api.WriteUnauthorized(w, api.ReasonUnauthenticated, "authentication required")
		return nil, false
	}
	return user, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if api.IsInternal(err) {
		h.log.Error("failed to "+op, "error", err)
	}
	api.WriteServiceError(w, err)
}
