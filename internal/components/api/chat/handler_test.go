// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package chat_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/go-chi/chi/v5"

	apichat "github.com/MahdiBaghbani/vaultshare-go/internal/components/api/chat"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/chat"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/http/auth"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := r.Header.Get("X-User"); id != "" {
			r = r.WithContext(auth.WithUser(r.Context(), &identity.User{ID: id, Username: id}))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	s, err := store.New(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	users := identity.NewMemoryPartyRepo()
	for _, name := range []string{"alice", "bob", "carol"} {
		if err := users.Create(context.Background(), &identity.User{ID: name, Username: name}); err != nil {
			t.Fatal(err)
		}
	}
	h := apichat.NewHandler(chat.NewService(s, users, testLogger), auth.CurrentUser, testLogger)

	r := chi.NewRouter()
	r.Use(asUser)
	r.Get("/api/chat/contacts", h.HandleContacts)
	r.Get("/api/chat/messages/{userId}", h.HandleConversation)
	r.Post("/api/chat/messages", h.HandleSend)
	r.Get("/api/chat/ws", h.HandleWebsocket)
	return r
}

func do(t *testing.T, h http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set("X-User", user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSendReadAndContacts(t *testing.T) {
	h := newTestRouter(t)

	rr := do(t, h, "POST", "/api/chat/messages", "alice", apichat.SendRequest{ReceiverID: "bob", Content: "hello"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("send: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, "GET", "/api/chat/contacts", "bob", nil)
	var contacts map[string][]chat.Contact
	json.NewDecoder(rr.Body).Decode(&contacts)
	list := contacts["contacts"]
	if len(list) != 2 || list[0].ID != "alice" || list[0].Unread != 1 {
		t.Fatalf("unexpected contacts %+v", list)
	}

	rr = do(t, h, "GET", "/api/chat/messages/alice", "bob", nil)
	var conv map[string][]chat.Message
	json.NewDecoder(rr.Body).Decode(&conv)
	if len(conv["messages"]) != 1 || conv["messages"][0].Content != "hello" {
		t.Fatalf("unexpected conversation %+v", conv)
	}

	rr = do(t, h, "GET", "/api/chat/contacts", "bob", nil)
	contacts = nil
	json.NewDecoder(rr.Body).Decode(&contacts)
	if contacts["contacts"][0].Unread != 0 {
		t.Errorf("reading the conversation should clear unread, got %d", contacts["contacts"][0].Unread)
	}
}

func TestSend_Rejections(t *testing.T) {
	h := newTestRouter(t)

	tests := []struct {
		name string
		user string
		req  apichat.SendRequest
		want int
	}{
		{"anonymous", "", apichat.SendRequest{ReceiverID: "bob", Content: "x"}, http.StatusUnauthorized},
		{"empty content", "alice", apichat.SendRequest{ReceiverID: "bob"}, http.StatusBadRequest},
		{"self", "alice", apichat.SendRequest{ReceiverID: "alice", Content: "x"}, http.StatusBadRequest},
		{"unknown receiver", "alice", apichat.SendRequest{ReceiverID: "mallory", Content: "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := do(t, h, "POST", "/api/chat/messages", tt.user, tt.req); rr.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestWebsocket_RequiresUser(t *testing.T) {
	h := newTestRouter(t)
	if rr := do(t, h, "GET", "/api/chat/ws", "", nil); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}
