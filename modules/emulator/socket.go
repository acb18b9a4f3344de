package emulator

import (
	"encoding/json"
	"fmt"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/example/chat-sync-client/domain/chat"
	"github.com/example/chat-sync-client/modules/transport"
)

// Rate limiting for client frames
const (
	framesPerSecond = 10
	burstSize       = 20
)

// HandleWebSocket serves one authenticated socket connection.
func (h *Handlers) HandleWebSocket(c *websocket.Conn) {
	userID, _ := c.Locals(UserContextKey).(string)
	client := NewClient(uuid.New().String(), userID, c)
	if !h.hub.Register(client) {
		_ = c.Close()
		return
	}
	h.metrics.connections.Inc()
	limiter := rate.NewLimiter(framesPerSecond, burstSize)

	defer func() {
		h.hub.Unregister(client)
		h.metrics.connections.Dec()
		_ = c.Close()
	}()

	h.logger.Info("WebSocket connected", "client", client.ID, "user", userID)

	for {
		_, frame, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket error", "client", client.ID, "error", err)
			}
			break
		}

		if !limiter.Allow() {
			h.sendError(client, "Rate limit exceeded, please slow down")
			continue
		}

		var env transport.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			h.sendError(client, "Invalid message format")
			continue
		}
		if err := h.dispatch(client, env); err != nil {
			h.sendError(client, err.Error())
		}
	}

	h.logger.Info("WebSocket disconnected", "client", client.ID, "user", userID)
}

func (h *Handlers) dispatch(client *Client, env transport.Envelope) error {
	switch env.Event {
	case evJoinRoom:
		var req transport.JoinRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.handleJoin(client, req)
	case evGetMessages:
		var req transport.RoomRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.sendRoom(client, req.RoomID, chat.Page{Limit: req.Limit, Offset: req.Offset})
	case evSendMessage:
		var req transport.SendRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		d := chat.Draft{Content: req.Content, Type: req.Type, FileURL: req.FileURL}
		if d.Type == "" {
			d.Type = chat.TypeText
		}
		_, err := h.service.Send(req.RoomID, client.UserID, d, "ws")
		return err
	case evMarkAsRead:
		var req transport.RoomRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		_, err := h.service.MarkRead(req.RoomID, client.UserID)
		return err
	case evTyping, evStopTyping:
		var req transport.RoomRequest
		if err := decode(env, &req); err != nil {
			return err
		}
		return h.service.Typing(req.RoomID, client.UserID, env.Event == evTyping)
	}
	return fmt.Errorf("unknown event: %s", env.Event)
}

// handleJoin opens a room by id, or by the other user's id when no room id is
// given, and replies with room_joined.
func (h *Handlers) handleJoin(client *Client, req transport.JoinRequest) error {
	roomID := req.RoomID
	if roomID == "" {
		if req.UserID == "" {
			return fmt.Errorf("roomId or userId is required")
		}
		room, err := h.service.OpenRoom(client.UserID, req.UserID)
		if err != nil {
			return err
		}
		roomID = room.ID
	}
	if err := h.sendRoom(client, roomID, chat.Page{Limit: req.Limit, Offset: req.Offset}); err != nil {
		return err
	}
	client.Join(roomID)
	return nil
}

func (h *Handlers) sendRoom(client *Client, roomID string, page chat.Page) error {
	room, err := h.store.GetRoom(roomID, client.UserID)
	if err != nil {
		return err
	}
	msgs, err := h.service.History(roomID, client.UserID, page)
	if err != nil {
		return err
	}
	return client.Send(evRoomJoined, roomJoined{Room: room, Messages: msgs})
}

func (h *Handlers) sendError(client *Client, message string) {
	if err := client.Send(evError, errorPayload{Message: message}); err != nil {
		h.logger.Error("Failed to send error frame", "client", client.ID, "error", err)
	}
}

func decode(env transport.Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: payload is required", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload", env.Event)
	}
	return nil
}
