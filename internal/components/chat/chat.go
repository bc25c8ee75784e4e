// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

// Package chat implements direct messages between users with realtime
// delivery to connected websocket clients.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
	"github.com/MahdiBaghbani/vaultshare-go/internal/components/identity"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/logutil"
	"github.com/MahdiBaghbani/vaultshare-go/internal/platform/store"
)

// MaxContentLength is the longest accepted message, in characters.
const MaxContentLength = 4000

// Message is a chat message as returned to its participants.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender_id"`
	Receiver  string    `json:"receiver_id"`
	Content   string    `json:"content"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact is another user together with the conversation summary.
type Contact struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	DisplayName   string     `json:"display_name"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	Unread        int        `json:"unread"`
}

// Service implements the chat operations.
type Service struct {
	store store.MessageStore
	users identity.PartyRepo
	hub   *Hub
	log   *slog.Logger
	now   func() time.Time
}

// NewService creates the chat service and its delivery hub.
// Call Run to start realtime delivery.
func NewService(s store.MessageStore, users identity.PartyRepo, log *slog.Logger) *Service {
	log = logutil.NoopIfNil(log)
	return &Service{
		store: s,
		users: users,
		hub:   NewHub(log),
		log:   log,
		now:   time.Now,
	}
}

// Hub returns the websocket hub.
func (s *Service) Hub() *Hub { return s.hub }

// Run delivers realtime events until ctx is done.
func (s *Service) Run(ctx context.Context) { s.hub.Run(ctx) }

// Send stores a message and pushes it to both participants.
func (s *Service) Send(ctx context.Context, sender, receiver, content string) (*Message, error) {
	content = strings.TrimSpace(content)
	switch {
	case content == "":
		return nil, apperr.Invalid("content", "content is required")
	case utf8.RuneCountInString(content) > MaxContentLength:
		return nil, apperr.Invalid("content", fmt.Sprintf("content must be at most %d characters", MaxContentLength))
	case receiver == "":
		return nil, apperr.Invalid("receiver_id", "receiver_id is required")
	case receiver == sender:
		return nil, apperr.Invalid("receiver_id", "cannot send a message to yourself")
	}
	if _, err := s.users.Get(ctx, receiver); err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return nil, apperr.Invalid("receiver_id", "unknown recipient")
		}
		return nil, fmt.Errorf("get receiver: %w", err)
	}

	rec := &store.Message{
		ID:        identity.NewID(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		CreatedAt: s.now().UnixMilli(),
	}
	if err := s.store.CreateMessage(ctx, rec); err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	msg := toView(rec)
	ev := Event{Type: EventMessage, Message: msg}
	s.hub.Deliver(receiver, ev)
	s.hub.Deliver(sender, ev)
	return msg, nil
}

// Conversation returns the messages between user and other, oldest first.
func (s *Service) Conversation(ctx context.Context, user, other string) ([]*Message, error) {
	recs, err := s.store.ListConversation(ctx, user, other)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	out := make([]*Message, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toView(rec))
	}
	return out, nil
}

// MarkRead marks every message from other to user as read and notifies other.
func (s *Service) MarkRead(ctx context.Context, user, other string) (int, error) {
	n, err := s.store.MarkRead(ctx, user, other)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	if n > 0 {
		s.hub.Deliver(other, Event{Type: EventRead, ReaderID: user, Count: n})
	}
	return n, nil
}

// Contacts lists every other user. Users with a conversation come first,
// most recent first; the rest follow by username.
func (s *Service) Contacts(ctx context.Context, user string) ([]Contact, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	msgs, err := s.store.ListMessages(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	type summary struct {
		last   int64
		unread int
	}
	byPeer := make(map[string]*summary)
	for _, m := range msgs {
		peer := m.Receiver
		if peer == user {
			peer = m.Sender
		}
		sum := byPeer[peer]
		if sum == nil {
			sum = &summary{}
			byPeer[peer] = sum
		}
		sum.last = max(sum.last, m.CreatedAt)
		if m.Receiver == user && !m.Read {
			sum.unread++
		}
	}

	out := make([]Contact, 0, len(users))
	for _, u := range users {
		if u.ID == user {
			continue
		}
		c := Contact{ID: u.ID, Username: u.Username, DisplayName: u.DisplayName}
		if sum := byPeer[u.ID]; sum != nil {
			last := time.UnixMilli(sum.last)
			c.LastMessageAt = &last
			c.Unread = sum.unread
		}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].LastMessageAt, out[j].LastMessageAt
		switch {
		case a != nil && b != nil:
			return a.After(*b)
		case a != nil || b != nil:
			return a != nil
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func toView(rec *store.Message) *Message {
	return &Message{
		ID:        rec.ID,
		Sender:    rec.Sender,
		Receiver:  rec.Receiver,
		Content:   rec.Content,
		Read:      rec.Read,
		CreatedAt: time.UnixMilli(rec.CreatedAt),
	}
}
