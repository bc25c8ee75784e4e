// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package chat implements the messaging handlers and the websocket endpoint.
package chat

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/api"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/chat"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
)

// SendRequest is the body of POST /api/chat/messages.
type SendRequest struct {
	ReceiverID string `json:"receiver_id" validate:"required"`
	Content    string `json:"content" validate:"required,max=4000"`
}

// Handler serves /api/chat.
type Handler struct {
	chat        *chat.Service
	currentUser func(context.Context) (*identity.User, error)
	log         *slog.Logger
}

// NewHandler creates the chat handler.
func NewHandler(svc *chat.Service, currentUser func(context.Context) (*identity.User, error), log *slog.Logger) *Handler {
	return &Handler{chat: svc, currentUser: currentUser, log: logutil.NoopIfNil(log)}
}

// HandleContacts handles GET /api/chat/contacts.
func (h *Handler) HandleContacts(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	contacts, err := h.chat.Contacts(r.Context(), user.ID)
	if err != nil {
		h.fail(w, "list contacts", err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

// HandleConversation handles GET /api/chat/messages/{userId}. Reading a
// conversation marks the counterpart's messages as read.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	other := chi.URLParam(r, "userId")
	msgs, err := h.chat.Conversation(r.Context(), user.ID, other)
	if err != nil {
		h.fail(w, "list conversation", err)
		return
	}
	if _, err := h.chat.MarkRead(r.Context(), user.ID, other); err != nil {
		h.log.Warn("failed to mark conversation read", "error", err)
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// HandleSend handles POST /api/chat/messages.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	var req SendRequest
	if !api.DecodeJSON(w, r, &req) {
		return
	}
	msg, err := h.chat.Send(r.Context(), user.ID, req.ReceiverID, req.Content)
	if err != nil {
		h.fail(w, "send message", err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, msg)
}

// HandleWebsocket handles GET /api/chat/ws.
func (h *Handler) HandleWebsocket(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	h.chat.Serve(w, r, user.ID)
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
