// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/chat"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
	_ "github.com/MahdiBaghbani/vaultshare-go/internal/platform/store/json"
)

func newService(t *testing.T) *chat.Service {
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
	for _, u := range []*identity.User{
		{ID: "alice", Username: "alice", DisplayName: "Alice"},
		{ID: "bob", Username: "bob", DisplayName: "Bob"},
		{ID: "carol", Username: "carol", DisplayName: "Carol"},
	} {
		if err := users.Create(context.Background(), u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return chat.NewService(s, users, nil)
}

func TestSendAndConversation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	if _, err := svc.Send(ctx, "alice", "bob", " hi bob "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := svc.Send(ctx, "bob", "alice", "hi alice"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := svc.Send(ctx, "alice", "carol", "unrelated"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conv, err := svc.Conversation(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("Conversation: %v", err)
	}
	if len(conv) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(conv))
	}
	if conv[0].Content != "hi bob" || conv[1].Content != "hi alice" {
		t.Errorf("unexpected order or content: %q, %q", conv[0].Content, conv[1].Content)
	}
	if conv[0].CreatedAt.After(conv[1].CreatedAt) {
		t.Error("conversation must be oldest first")
	}
}

func TestSend_Validation(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		receiver string
		content  string
	}{
		{"empty content", "bob", "   "},
		{"too long", "bob", strings.Repeat("x", chat.MaxContentLength+1)},
		{"self", "alice", "hello me"},
		{"unknown receiver", "mallory", "hello"},
		{"missing receiver", "", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Send(ctx, "alice", tt.receiver, tt.content); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestMarkReadAndContacts(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	svc.Send(ctx, "alice", "bob", "one")
	svc.Send(ctx, "alice", "bob", "two")

	contacts, err := svc.Contacts(ctx, "bob")
	if err != nil {
		t.Fatalf("Contacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected 2 contacts, got %d", len(contacts))
	}
	if contacts[0].ID != "alice" || contacts[0].Unread != 2 || contacts[0].LastMessageAt == nil {
		t.Errorf("alice should come first with 2 unread, got %+v", contacts[0])
	}
	if contacts[1].ID != "carol" || contacts[1].LastMessageAt != nil {
		t.Errorf("carol should follow without history, got %+v", contacts[1])
	}

	n, err := svc.MarkRead(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 marked, got %d", n)
	}

	contacts, _ = svc.Contacts(ctx, "bob")
	if contacts[0].Unread != 0 {
		t.Errorf("expected no unread after MarkRead, got %d", contacts[0].Unread)
	}
	conv, _ := svc.Conversation(ctx, "alice", "bob")
	for _, m := range conv {
		if !m.Read {
			t.Errorf("message %s should be read", m.ID)
		}
	}
}

func TestWebsocketDelivery(t *testing.T) {
	svc := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.Serve(w, r, r.URL.Query().Get("user"))
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	bob, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=bob", nil)
	if err != nil {
		t.Fatalf("dial bob: %v", err)
	}
	defer bob.Close()
	alice, _, err := websocket.DefaultDialer.Dial(wsURL+"?user=alice", nil)
	if err != nil {
		t.Fatalf("dial alice: %v", err)
	}
	defer alice.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !(svc.Hub().Online("bob") && svc.Hub().Online("alice")) {
		if time.Now().After(deadline) {
			t.Fatal("clients never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Alice sends over her socket; bob receives it on his.
	if err := alice.WriteJSON(chat.Frame{Type: chat.FrameSend, ReceiverID: "bob", Content: "psst"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}

	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev chat.Event
	if err := bob.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != chat.EventMessage || ev.Message == nil || ev.Message.Content != "psst" || ev.Message.Sender != "alice" {
		t.Errorf("unexpected event %+v", ev)
	}

	// Bob marks it read; alice gets the receipt after her own echo.
	if err := bob.WriteJSON(chat.Frame{Type: chat.FrameRead, SenderID: "alice"}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []chat.Event
	for len(got) < 2 {
		_, data, err := alice.ReadMessage()
		if err != nil {
			t.Fatalf("read alice: %v", err)
		}
		var e chat.Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = append(got, e)
	}
	if got[0].Type != chat.EventMessage || got[1].Type != chat.EventRead || got[1].ReaderID != "bob" || got[1].Count != 1 {
		t.Errorf("unexpected events for alice: %+v", got)
	}
}

type brokenMessageStore struct {
	store.MessageStore
}

func (brokenMessageStore) CreateMessage(context.Context, *store.Message) error {
	return errors.New("write /var/lib/vaultshare/messages: no space left on device")
}

func TestWebsocketErrorsStayGeneric(t *testing.T) {
	users := identity.NewMemoryPartyRepo()
	for _, id := range []string{"alice", "bob"} {
		if err := users.Create(context.Background(), &identity.User{ID: id, Username: id}); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	s, err := store.New(&store.DriverConfig{Driver: "json", DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("store.Init: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	svc := chat.NewService(brokenMessageStore{MessageStore: s}, users, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		svc.Serve(w, r, "alice")
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !svc.Hub().Online("alice") {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	tests := []struct {
		name  string
		frame chat.Frame
		want  string
	}{
		{"store failure", chat.Frame{Type: chat.FrameSend, ReceiverID: "bob", Content: "hi"}, "internal error"},
		{"validation", chat.Frame{Type: chat.FrameSend, ReceiverID: "alice", Content: "hi"}, "receiver_id: cannot send a message to yourself"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := conn.WriteJSON(tt.frame); err != nil {
				t.Fatalf("write frame: %v", err)
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			var ev chat.Event
			if err := conn.ReadJSON(&ev); err != nil {
				t.Fatalf("read event: %v", err)
			}
			if ev.Type != chat.EventError || ev.Error != tt.want {
				t.Errorf("expected error event %q, got %+v", tt.want, ev)
			}
		})
	}
}
