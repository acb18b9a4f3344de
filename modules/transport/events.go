package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/chat-sync-client/domain/chat"
)

// Kind identifies an event variant.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindError        Kind = "error"
	KindRoomJoined   Kind = "room_joined"
	KindMessage      Kind = "message"
	KindMessageSent  Kind = "message_sent"
	KindMessagesRead Kind = "messages_read"
	KindTyping       Kind = "user_typing"
	KindStopTyping   Kind = "user_stop_typing"
	KindNotification Kind = "notification"
)

// Event is the closed set of things the adapter reports to subscribers.
// Only the types in this file implement it.
type Event interface {
	Kind() Kind
	event()
}

// ConnectedEvent is emitted once per successful handshake.
type ConnectedEvent struct{}

// DisconnectedEvent is emitted when an open connection goes away.
type DisconnectedEvent struct {
	Reason error
}

// ErrorEvent reports a transport or server-side failure. Attempt is the
// number of consecutive failed dials, zero for errors not tied to dialing.
type ErrorEvent struct {
	Err     error
	Attempt int
}

// RoomJoinedEvent acknowledges a join and carries the first history page.
type RoomJoinedEvent struct {
	Room     chat.ChatRoom  `json:"room"`
	Messages []chat.Message `json:"messages"`
}

// Channel tells which server channel delivered a message.
type Channel string

const (
	ChannelRoom    Channel = "room"
	ChannelDirect  Channel = "direct"
	ChannelGeneric Channel = "generic"
)

// MessageEvent is an inbound message from any of the three channels.
type MessageEvent struct {
	Channel Channel
	Message chat.Message
}

// MessageSentEvent echoes a message this session submitted over the socket.
type MessageSentEvent struct {
	Message chat.Message
}

// MessagesReadEvent reports that the messages of a room were read.
type MessagesReadEvent struct {
	RoomID string
	UserID string
}

// TypingEvent reports that UserID started typing in RoomID.
type TypingEvent struct {
	RoomID string
	UserID string
}

// StopTypingEvent reports that UserID stopped typing in RoomID.
type StopTypingEvent struct {
	RoomID string
	UserID string
}

// NotificationEvent is a generic server push.
type NotificationEvent struct {
	Type  string          `json:"type"`
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (ConnectedEvent) Kind() Kind    { return KindConnected }
func (DisconnectedEvent) Kind() Kind { return KindDisconnected }
func (ErrorEvent) Kind() Kind        { return KindError }
func (RoomJoinedEvent) Kind() Kind   { return KindRoomJoined }
func (MessageEvent) Kind() Kind      { return KindMessage }
func (MessageSentEvent) Kind() Kind  { return KindMessageSent }
func (MessagesReadEvent) Kind() Kind { return KindMessagesRead }
func (TypingEvent) Kind() Kind       { return KindTyping }
func (StopTypingEvent) Kind() Kind   { return KindStopTyping }
func (NotificationEvent) Kind() Kind { return KindNotification }

func (ConnectedEvent) event()    {}
func (DisconnectedEvent) event() {}
func (ErrorEvent) event()        {}
func (RoomJoinedEvent) event()   {}
func (MessageEvent) event()      {}
func (MessageSentEvent) event()  {}
func (MessagesReadEvent) event() {}
func (TypingEvent) event()       {}
func (StopTypingEvent) event()   {}
func (NotificationEvent) event() {}

// Wire event names.
const (
	// outbound
	wireJoinRoom    = "join_room"
	wireSendMessage = "send_message"
	wireMarkAsRead  = "mark_as_read"
	wireGetMessages = "get_messages"
	wireTyping      = "typing"
	wireStopTyping  = "stop_typing"

	// inbound
	wireRoomJoined     = "room_joined"
	wireNewMessage     = "new_message"
	wirePrivateMessage = "private_message"
	wireMessage        = "message"
	wireMessageSent    = "message_sent"
	wireMessagesRead   = "messages_read"
	wireUserTyping     = "user_typing"
	wireUserStopTyping = "user_stop_typing"
	wireNotification   = "notification"
	wireError          = "error"
)

// ErrUnknownEvent is returned by Decode for event names it does not know.
var ErrUnknownEvent = errors.New("unknown event")

// ServerError is an error pushed by the server over the socket.
type ServerError struct {
	Message string `json:"message"`
}

func (e *ServerError) Error() string { return "server: " + e.Message }

// Envelope is the frame format in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// JoinRequest is the join_room payload. Exactly one of RoomID and UserID is set.
type JoinRequest struct {
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId,omitempty"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
}

// SendRequest is the send_message payload.
type SendRequest struct {
	RoomID  string           `json:"roomId"`
	Content string           `json:"content"`
	Type    chat.MessageType `json:"type"`
	FileURL string           `json:"fileUrl,omitempty"`
}

// RoomRequest is the payload of room-scoped signals and history fetches.
type RoomRequest struct {
	RoomID string `json:"roomId"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// roomSignal is the inbound shape of read receipts and typing signals.
type roomSignal struct {
	ChatRoomID string `json:"chatRoomId"`
	RoomID     string `json:"roomId"`
	UserID     string `json:"userId"`
}

func (s roomSignal) room() string {
	if s.ChatRoomID != "" {
		return s.ChatRoomID
	}
	return s.RoomID
}

// Encode builds an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Decode turns an inbound frame into its typed event.
func Decode(frame []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case wireRoomJoined:
		var ev RoomJoinedEvent
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case wireNewMessage:
		return decodeMessage(env, ChannelRoom)
	case wirePrivateMessage:
		return decodeMessage(env, ChannelDirect)
	case wireMessage:
		return decodeMessage(env, ChannelGeneric)
	case wireMessageSent:
		var m chat.Message
		if err := unmarshalData(env, &m); err != nil {
			return nil, err
		}
		return MessageSentEvent{Message: m}, nil
	case wireMessagesRead:
		var s roomSignal
		if err := unmarshalData(env, &s); err != nil {
			return nil, err
		}
		return MessagesReadEvent{RoomID: s.room(), UserID: s.UserID}, nil
	case wireUserTyping:
		var s roomSignal
		if err := unmarshalData(env, &s); err != nil {
			return nil, err
		}
		return TypingEvent{RoomID: s.room(), UserID: s.UserID}, nil
	case wireUserStopTyping:
		var s roomSignal
		if err := unmarshalData(env, &s); err != nil {
			return nil, err
		}
		return StopTypingEvent{RoomID: s.room(), UserID: s.UserID}, nil
	case wireNotification:
		var ev NotificationEvent
		if err := unmarshalData(env, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case wireError:
		se := &ServerError{}
		if err := unmarshalData(env, se); err != nil {
			return nil, err
		}
		return ErrorEvent{Err: se}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decodeMessage(env Envelope, ch Channel) (Event, error) {
	var m chat.Message
	if err := unmarshalData(env, &m); err != nil {
		return nil, err
	}
	return MessageEvent{Channel: ch, Message: m}, nil
}

func unmarshalData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", env.Event, err)
	}
	return nil
}
