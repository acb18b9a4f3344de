package session

import (
	"context"
	"errors"
	"time"

	"github.com/example/chat-sync-client/domain/chat"
	"github.com/example/chat-sync-client/modules/transport"
)

// Transport event handlers. They run on the socket's read goroutine, so they
// only touch state and hand network work to spawn.

func (e *Engine) onConnected(transport.ConnectedEvent) {
	e.mu.Lock()
	e.state = StateConnected
	e.mu.Unlock()
	e.changed()

	e.spawn(e.refresh)
}

func (e *Engine) onDisconnected(ev transport.DisconnectedEvent) {
	e.mu.Lock()
	e.state = StateDisconnected
	e.stopTypingLocked()
	e.mu.Unlock()
	e.logger.Info("socket lost, falling back to REST", "reason", ev.Reason)
	e.changed()
}

func (e *Engine) onError(ev transport.ErrorEvent) {
	var serverErr *transport.ServerError
	switch {
	case errors.As(ev.Err, &serverErr):
		e.toast(ToastError, "Chat error", serverErr.Message, "")
	case errors.Is(ev.Err, transport.ErrNoCredential),
		errors.Is(ev.Err, transport.ErrUnauthorized),
		errors.Is(ev.Err, transport.ErrGaveUp):
		e.mu.Lock()
		e.state = StateDisconnected
		e.mu.Unlock()
		e.changed()
		e.toast(ToastError, "Realtime chat unavailable", ev.Err.Error(), "")
	default:
		e.logger.Debug("transport error", "attempt", ev.Attempt, "error", ev.Err)
	}
}

func (e *Engine) onRoomJoined(ev transport.RoomJoinedEvent) {
	e.mu.Lock()
	if !e.isCurrentLocked(ev.Room.ID) {
		e.mu.Unlock()
		return
	}
	for _, m := range ev.Messages {
		e.appendLocked(m)
	}
	e.mu.Unlock()
	e.changed()
}

// onMessage appends messages of the open room and toasts the others. Either
// way the room list and unread total are refreshed afterwards.
func (e *Engine) onMessage(ev transport.MessageEvent) {
	msg := ev.Message

	e.mu.Lock()
	open := e.isCurrentLocked(msg.RoomID)
	if open {
		e.appendLocked(msg)
	}
	sender := e.roomNameLocked(msg.RoomID)
	e.mu.Unlock()

	if open {
		e.changed()
	} else if !msg.IsFrom(e.opts.UserID) {
		if sender == "" {
			sender = "New message"
		}
		e.toast(ToastMessage, sender, preview(msg), msg.RoomID)
	}

	e.spawn(e.refresh)
}

func (e *Engine) onMessageSent(ev transport.MessageSentEvent) {
	e.mu.Lock()
	open := e.isCurrentLocked(ev.Message.RoomID)
	if open {
		e.appendLocked(ev.Message)
	}
	e.mu.Unlock()

	if open {
		e.changed()
	}
	e.spawn(func(ctx context.Context) { _ = e.RefreshRooms(ctx) })
}

func (e *Engine) onMessagesRead(ev transport.MessagesReadEvent) {
	self := ev.UserID != "" && ev.UserID == e.opts.UserID
	e.mu.Lock()
	open := e.isCurrentLocked(ev.RoomID)
	if !open && !self {
		e.mu.Unlock()
		return
	}
	e.zeroUnreadLocked(ev.RoomID)
	if open && ev.UserID != "" && !self {
		e.messages.MarkReadFrom(e.opts.UserID)
	}
	e.mu.Unlock()
	e.changed()

	// Our own receipt means the server has applied the mark.
	if self {
		e.spawn(e.refreshUnread)
	}
}

func (e *Engine) onTyping(ev transport.TypingEvent) {
	e.mu.Lock()
	if !e.isCurrentLocked(ev.RoomID) || (ev.UserID != "" && ev.UserID == e.opts.UserID) {
		e.mu.Unlock()
		return
	}
	e.stopTypingLocked()
	e.typing = true
	seq := e.typingSeq
	e.typingTimer = time.AfterFunc(e.opts.TypingTimeout, func() { e.expireTyping(seq) })
	e.mu.Unlock()
	e.changed()
}

func (e *Engine) expireTyping(seq uint64) {
	e.mu.Lock()
	if seq != e.typingSeq {
		e.mu.Unlock()
		return
	}
	e.typing = false
	e.typingTimer = nil
	e.mu.Unlock()
	e.changed()
}

func (e *Engine) onStopTyping(ev transport.StopTypingEvent) {
	e.mu.Lock()
	if !e.isCurrentLocked(ev.RoomID) || !e.typing || (ev.UserID != "" && ev.UserID == e.opts.UserID) {
		e.mu.Unlock()
		return
	}
	e.stopTypingLocked()
	e.mu.Unlock()
	e.changed()
}

func (e *Engine) onNotification(ev transport.NotificationEvent) {
	title := ev.Title
	if title == "" {
		title = "Notification"
	}
	e.toast(ToastInfo, title, ev.Body, "")
}

func preview(m chat.Message) string {
	switch m.Type {
	case chat.TypeImage:
		return "[image]"
	case chat.TypeFile:
		return "[file] " + m.Content
	}
	const previewLen = 80
	if r := []rune(m.Content); len(r) > previewLen {
		return string(r[:previewLen]) + "..."
	}
	return m.Content
}
