package events

import (
	"time"

	"github.com/go-monolith/mono/pkg/helper"
)

// ToastRaisedEvent is emitted when the session has something to tell the user.
type ToastRaisedEvent struct {
	ToastID   string    `json:"toast_id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	RoomID    string    `json:"room_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConnectionChangedEvent is emitted when the realtime connection state changes.
type ConnectionChangedEvent struct {
	State     string    `json:"state"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Event definitions for the chat session.
var (
	ToastRaisedV1 = helper.EventDefinition[ToastRaisedEvent](
		"session",
		"ToastRaised",
		"v1",
	)

	ConnectionChangedV1 = helper.EventDefinition[ConnectionChangedEvent](
		"session",
		"ConnectionChanged",
		"v1",
	)
)
