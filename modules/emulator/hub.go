package emulator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gofiber/contrib/websocket"

	"github.com/example/chat-sync-client/domain/chat"
	"github.com/example/chat-sync-client/modules/transport"
)

// Conn is the write side of a socket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one socket connection of an authenticated user.
type Client struct {
	ID     string
	UserID string

	conn Conn
	mu   sync.Mutex // serializes writes on conn

	roomMu sync.RWMutex
	room   string
}

// NewClient wraps conn for userID.
func NewClient(id, userID string, conn Conn) *Client {
	return &Client{ID: id, UserID: userID, conn: conn}
}

// Send writes one frame to the client.
func (c *Client) Send(event string, payload any) error {
	frame, err := transport.Encode(event, payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Join records the room the client has open.
func (c *Client) Join(roomID string) {
	c.roomMu.Lock()
	defer c.roomMu.Unlock()
	c.room = roomID
}

// Room returns the room the client has open.
func (c *Client) Room() string {
	c.roomMu.RLock()
	defer c.roomMu.RUnlock()
	return c.room
}

// Hub tracks the live connections of every user. A user may hold several.
type Hub struct {
	clients    map[string]map[string]*Client // userID -> clientID -> Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run processes registrations until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			close(h.done)
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		}
	}
}

// Wait blocks until Run has returned.
func (h *Hub) Wait() {
	<-h.done
}

// Register adds a client. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// SendToUser delivers a frame to every connection of userID and reports how
// many received it.
func (h *Hub) SendToUser(userID, event string, payload any) int {
	return h.fanOut(userID, func(*Client) string { return event }, payload)
}

// DeliverMessage pushes msg to every connection of userID: new_message where
// the room is open, private_message elsewhere.
func (h *Hub) DeliverMessage(userID string, msg chat.Message) int {
	return h.fanOut(userID, func(c *Client) string {
		if c.Room() == msg.RoomID {
			return evNewMessage
		}
		return evPrivateMessage
	}, msg)
}

func (h *Hub) fanOut(userID string, eventFor func(*Client) string, payload any) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients[userID]))
	for _, c := range h.clients[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		event := eventFor(c)
		if err := c.Send(event, payload); err != nil {
			h.logger.Warn("Failed to deliver frame", "client", c.ID, "user", userID, "event", event, "error", err)
			continue
		}
		delivered++
	}
	return delivered
}

// Online reports whether userID has at least one connection.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// ClientCount returns the total number of connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.UserID] == nil {
		h.clients[c.UserID] = make(map[string]*Client)
	}
	h.clients[c.UserID][c.ID] = c
	h.logger.Debug("Client registered", "client", c.ID, "user", c.UserID)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.UserID]
	if !ok {
		return
	}
	delete(set, c.ID)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	h.logger.Debug("Client unregistered", "client", c.ID, "user", c.UserID)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.clients {
		for _, c := range set {
			_ = c.conn.Close()
		}
	}
	h.clients = make(map[string]map[string]*Client)
}
