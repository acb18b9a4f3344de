package emulator

import "github.com/example/chat-sync-client/domain/chat"

// Response is the envelope of every REST reply.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// LoginRequest is the body of the dev login endpoint.
type LoginRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

// LoginResponse carries the issued token.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// CreateRoomRequest opens a direct room with another user.
type CreateRoomRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// UnreadResponse is the unread-count payload.
type UnreadResponse struct {
	UnreadCount int `json:"unreadCount"`
}

// ReadResponse reports how many messages a read mark covered.
type ReadResponse struct {
	MarkedCount int `json:"markedCount"`
}

// Socket event names.
const (
	evJoinRoom    = "join_room"
	evSendMessage = "send_message"
	evMarkAsRead  = "mark_as_read"
	evGetMessages = "get_messages"
	evTyping      = "typing"
	evStopTyping  = "stop_typing"

	evRoomJoined     = "room_joined"
	evNewMessage     = "new_message"
	evPrivateMessage = "private_message"
	evMessageSent    = "message_sent"
	evMessagesRead   = "messages_read"
	evUserTyping     = "user_typing"
	evUserStopTyping = "user_stop_typing"
	evNotification   = "notification"
	evError          = "error"
)

// roomJoined is the room_joined payload.
type roomJoined struct {
	Room     chat.ChatRoom  `json:"room"`
	Messages []chat.Message `json:"messages"`
}

// roomSignal is the payload of read receipts and typing relays.
type roomSignal struct {
	ChatRoomID string `json:"chatRoomId"`
	UserID     string `json:"userId"`
}

// notification is a server push outside any room stream.
type notification struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	Body  string `json:"body"`
	Data  any    `json:"data,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}
