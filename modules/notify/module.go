// Package notify shows session toasts to the user and keeps the most recent
// ones in memory.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/helper"
	"github.com/go-monolith/mono/pkg/types"

	"github.com/example/chat-sync-client/events"
)

// Entry is one delivered notification.
type Entry struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	RoomID    string    `json:"room_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Sink displays an entry. It must not block.
type Sink func(Entry)

// Module consumes toast and connection events.
type Module struct {
	logger types.Logger
	limit  int
	sink   Sink

	mu      sync.RWMutex
	entries []Entry
}

var (
	_ mono.Module              = (*Module)(nil)
	_ mono.EventConsumerModule = (*Module)(nil)
)

// NewModule creates the module. It keeps at most limit entries; sink may be nil.
func NewModule(limit int, sink Sink, logger types.Logger) *Module {
	if limit <= 0 {
		limit = 100
	}
	return &Module{
		logger:  logger,
		limit:   limit,
		sink:    sink,
		entries: make([]Entry, 0, limit),
	}
}

func (m *Module) Name() string {
	return "notify"
}

func (m *Module) RegisterEventConsumers(registry mono.EventRegistry) error {
	if err := helper.RegisterTypedEventConsumer(registry, events.ToastRaisedV1, m.handleToast, m); err != nil {
		return fmt.Errorf("failed to register ToastRaised consumer: %w", err)
	}
	if err := helper.RegisterTypedEventConsumer(registry, events.ConnectionChangedV1, m.handleConnectionChanged, m); err != nil {
		return fmt.Errorf("failed to register ConnectionChanged consumer: %w", err)
	}

	m.logger.Info("Registered event consumers", "events", "ToastRaised, ConnectionChanged")
	return nil
}

func (m *Module) handleToast(_ context.Context, event events.ToastRaisedEvent, _ *mono.Msg) error {
	m.record(Entry{
		ID:        event.ToastID,
		Kind:      event.Kind,
		Title:     event.Title,
		Body:      event.Body,
		RoomID:    event.RoomID,
		Timestamp: event.Timestamp,
	})
	return nil
}

func (m *Module) handleConnectionChanged(_ context.Context, event events.ConnectionChangedEvent, _ *mono.Msg) error {
	m.logger.Info("Connection changed", "state", event.State, "userID", event.UserID)
	return nil
}

func (m *Module) record(e Entry) {
	if e.Kind == "error" {
		m.logger.Warn("Toast", "title", e.Title, "body", e.Body)
	} else {
		m.logger.Info("Toast", "kind", e.Kind, "title", e.Title, "body", e.Body)
	}

	m.mu.Lock()
	if len(m.entries) == m.limit {
		copy(m.entries, m.entries[1:])
		m.entries = m.entries[:len(m.entries)-1]
	}
	m.entries = append(m.entries, e)
	m.mu.Unlock()

	if m.sink != nil {
		m.sink(e)
	}
}

// Entries returns the retained notifications, oldest first.
func (m *Module) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Entry, len(m.entries))
	copy(result, m.entries)
	return result
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("Notification module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("Notification module stopped")
	return nil
}
