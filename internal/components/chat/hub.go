// SPDX-License-Identifier: AGPL-3.0-or-later
// SPDX-FileCopyrightText: 2025 OpenCloudMesh Authors

package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MahdiBaghbani/vaultshare-go/internal/components/apperr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 32
)

// Event types pushed to clients.
const (
	EventMessage = "message.new"
	EventRead    = "message.read"
	EventError   = "error"
)

// Inbound frame types accepted from clients.
const (
	FrameSend = "message.send"
	FrameRead = "message.read"
)

// Event is a frame pushed to a connected client.
type Event struct {
	Type     string   `json:"type"`
	Message  *Message `json:"message,omitempty"`
	ReaderID string   `json:"reader_id,omitempty"`
	Count    int      `json:"count,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Frame is a request sent by a client over its connection.
type Frame struct {
	Type       string `json:"type"`
	ReceiverID string `json:"receiver_id"`
	SenderID   string `json:"sender_id"`
	Content    string `json:"content"`
}

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
}

type delivery struct {
	userID  string
	payload []byte
}

// Hub tracks connected clients per user and fans events out to them.
type Hub struct {
	clients    map[string]map[*client]bool
	register   chan *client
	unregister chan *client
	deliver    chan delivery
	done       chan struct{}
	log        *slog.Logger

	// CheckOrigin is passed to the websocket upgrader. Nil enforces same origin.
	CheckOrigin func(r *http.Request) bool

	mu        sync.RWMutex
	connected map[string]int
}

// NewHub creates a hub. Run must be started for events to flow.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
		log:        log,
		connected:  make(map[string]int),
	}
}

// Run processes registrations and deliveries until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			if h.clients[c.userID] == nil {
				h.clients[c.userID] = make(map[*client]bool)
			}
			h.clients[c.userID][c] = true
			h.setConnected(c.userID, len(h.clients[c.userID]))

		case c := <-h.unregister:
			h.drop(c)

		case d := <-h.deliver:
			for c := range h.clients[d.userID] {
				select {
				case c.send <- d.payload:
				default:
					h.log.Warn("chat client too slow, disconnecting", "user_id", c.userID)
					h.drop(c)
				}
			}

		case <-ctx.Done():
			close(h.done)
			for _, set := range h.clients {
				for c := range set {
					h.drop(c)
				}
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	set, ok := h.clients[c.userID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.setConnected(c.userID, len(set))
}

func (h *Hub) setConnected(userID string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n == 0 {
		delete(h.connected, userID)
		return
	}
	h.connected[userID] = n
}

// Online reports whether userID has at least one connected client.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connected[userID] > 0
}

// Deliver queues an event for every client of userID. It never blocks;
// events are dropped when the queue is full.
func (h *Hub) Deliver(userID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("failed to encode chat event", "error", err)
		return
	}
	select {
	case h.deliver <- delivery{userID: userID, payload: payload}:
	default:
		h.log.Warn("chat delivery queue full, dropping event", "user_id", userID, "type", ev.Type)
	}
}

// Serve upgrades the request and attaches a client for userID. Frames
// received from the client are handled as Send and MarkRead calls.
func (s *Service) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.hub.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, sendBuffer), userID: userID}
	select {
	case s.hub.register <- c:
	case <-s.hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(s)
}

func (c *client) readPump(s *Service) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ctx := context.Background()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.log.Debug("websocket closed", "user_id", c.userID, "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.hub.Deliver(c.userID, Event{Type: EventError, Error: "invalid frame"})
			continue
		}
		switch f.Type {
		case FrameSend:
			if _, err := s.Send(ctx, c.userID, f.ReceiverID, f.Content); err != nil {
				c.hub.Deliver(c.userID, Event{Type: EventError, Error: c.failure("send", err)})
			}
		case FrameRead:
			if _, err := s.MarkRead(ctx, c.userID, f.SenderID); err != nil {
				c.hub.Deliver(c.userID, Event{Type: EventError, Error: c.failure("mark read", err)})
			}
		default:
			c.hub.Deliver(c.userID, Event{Type: EventError, Error: "unknown frame type"})
		}
	}
}

// failure turns err into the text sent back over the socket. Errors outside
// the apperr kinds are logged and reported generically.
func (c *client) failure(op string, err error) string {
	if msg, ok := apperr.Public(err); ok {
		return msg
	}
	c.hub.log.Error("chat "+op+" failed", "user_id", c.userID, "error", err)
	return "internal error"
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
