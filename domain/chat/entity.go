package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultPageLimit is the history page size used when none is given.
const DefaultPageLimit = 50

// Validation errors
var (
	ErrInvalidMessageType = errors.New("unknown message type")
	ErrMissingFileURL     = errors.New("file url is required for image and file messages")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrMissingMessageID   = errors.New("message id is required")
)

// MessageType tags the variant of a Message.
type MessageType string

const (
	TypeText  MessageType = "TEXT"
	TypeImage MessageType = "IMAGE"
	TypeFile  MessageType = "FILE"
)

// Valid reports whether t is one of the known variants.
func (t MessageType) Valid() bool {
	switch t {
	case TypeText, TypeImage, TypeFile:
		return true
	}
	return false
}

// HasAttachment reports whether the variant carries a file url.
func (t MessageType) HasAttachment() bool {
	return t == TypeImage || t == TypeFile
}

// MessageStatus is client-local delivery state. It is never sent to the server.
type MessageStatus string

const (
	StatusSending MessageStatus = "SENDING"
	StatusSent    MessageStatus = "SENT"
	StatusRead    MessageStatus = "READ"
)

// Participant is the read-only projection of the other member of a room.
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// LastMessage summarizes the most recent message of a room.
type LastMessage struct {
	Content   string      `json:"content"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// ChatRoom is a two-party conversation.
type ChatRoom struct {
	ID          string       `json:"chatRoomId"`
	OtherUser   Participant  `json:"otherUser"`
	LastMessage *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount int          `json:"unreadCount"`
}

// ZeroUnread clears the unread counter.
func (r *ChatRoom) ZeroUnread() {
	r.UnreadCount = 0
}

// Message is a single chat message. Type selects the variant: IMAGE and FILE
// carry FileURL, TEXT does not.
type Message struct {
	ID        string        `json:"messageId"`
	RoomID    string        `json:"chatRoomId"`
	SenderID  string        `json:"senderId"`
	Type      MessageType   `json:"type"`
	Content   string        `json:"content"`
	FileURL   string        `json:"fileUrl,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"-"`
}

// NewTextMessage builds a TEXT message.
func NewTextMessage(id, roomID, senderID, content string, ts time.Time) Message {
	return Message{ID: id, RoomID: roomID, SenderID: senderID, Type: TypeText, Content: content, Timestamp: ts}
}

// NewImageMessage builds an IMAGE message. The caption may be empty.
func NewImageMessage(id, roomID, senderID, fileURL, caption string, ts time.Time) Message {
	return Message{ID: id, RoomID: roomID, SenderID: senderID, Type: TypeImage, Content: caption, FileURL: fileURL, Timestamp: ts}
}

// NewFileMessage builds a FILE message.
func NewFileMessage(id, roomID, senderID, fileURL, name string, ts time.Time) Message {
	return Message{ID: id, RoomID: roomID, SenderID: senderID, Type: TypeFile, Content: name, FileURL: fileURL, Timestamp: ts}
}

// Validate checks the variant invariants.
func (m Message) Validate() error {
	if m.ID == "" {
		return ErrMissingMessageID
	}
	return validateBody(m.Type, m.Content, m.FileURL)
}

// IsFrom reports whether userID authored the message.
func (m Message) IsFrom(userID string) bool {
	return userID != "" && m.SenderID == userID
}

// Summary projects the message onto a room preview.
func (m Message) Summary() *LastMessage {
	return &LastMessage{Content: m.Content, Type: m.Type, Timestamp: m.Timestamp}
}

// wireMessage accepts both room id spellings and both id spellings the
// server uses.
type wireMessage struct {
	MessageID  string      `json:"messageId"`
	ID         string      `json:"id"`
	ChatRoomID string      `json:"chatRoomId"`
	RoomID     string      `json:"roomId"`
	SenderID   string      `json:"senderId"`
	Type       MessageType `json:"type"`
	Content    string      `json:"content"`
	FileURL    string      `json:"fileUrl"`
	Timestamp  time.Time   `json:"timestamp"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		ID:        firstNonEmpty(w.MessageID, w.ID),
		RoomID:    firstNonEmpty(w.ChatRoomID, w.RoomID),
		SenderID:  w.SenderID,
		Type:      w.Type,
		Content:   w.Content,
		FileURL:   w.FileURL,
		Timestamp: w.Timestamp,
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	return nil
}

// Draft is an outbound message that has not been persisted yet.
type Draft struct {
	Content string      `json:"content"`
	Type    MessageType `json:"type"`
	FileURL string      `json:"fileUrl,omitempty"`
}

// TextDraft is shorthand for a TEXT draft.
func TextDraft(content string) Draft {
	return Draft{Content: content, Type: TypeText}
}

// Validate checks the draft against the same rules as Message.
func (d Draft) Validate() error {
	return validateBody(d.Type, d.Content, d.FileURL)
}

func validateBody(t MessageType, content, fileURL string) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMessageType, t)
	}
	if t.HasAttachment() {
		if fileURL == "" {
			return ErrMissingFileURL
		}
		return nil
	}
	if content == "" {
		return ErrEmptyContent
	}
	return nil
}

// Page selects a window of message history.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Normalize fills in the default limit and clamps a negative offset.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
