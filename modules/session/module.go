package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/example/chat-sync-client/auth"
	"github.com/example/chat-sync-client/config"
	"github.com/example/chat-sync-client/events"
	"github.com/example/chat-sync-client/modules/rest"
	"github.com/example/chat-sync-client/modules/transport"
)

// Module ties one Engine to the application lifecycle: Start is login and
// Stop is logout. Toasts and connection changes go out on the EventBus.
type Module struct {
	cfg      config.Client
	tokens   auth.TokenSource
	metrics  *Metrics
	logger   types.Logger
	eventBus mono.EventBus

	mu        sync.Mutex
	engine    *Engine
	userID    string
	lastState ConnState
	watchers  []func(Snapshot)
}

// Compile-time interface checks
var (
	_ mono.Module                = (*Module)(nil)
	_ mono.EventBusAwareModule   = (*Module)(nil)
	_ mono.EventEmitterModule    = (*Module)(nil)
	_ mono.HealthCheckableModule = (*Module)(nil)
)

// NewModule creates the session module. Metrics are registered on reg.
func NewModule(cfg config.Client, tokens auth.TokenSource, reg prometheus.Registerer, logger types.Logger) *Module {
	return &Module{
		cfg:       cfg,
		tokens:    tokens,
		metrics:   NewMetrics(reg),
		logger:    logger,
		lastState: StateDisconnected,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "session"
}

// SetEventBus receives the EventBus from the framework.
func (m *Module) SetEventBus(bus mono.EventBus) {
	m.eventBus = bus
}

// EmitEvents declares the events this module can emit.
func (m *Module) EmitEvents() []mono.BaseEventDefinition {
	return []mono.BaseEventDefinition{
		events.ToastRaisedV1.ToBase(),
		events.ConnectionChangedV1.ToBase(),
	}
}

// Watch registers fn to receive every state snapshot. Call it before Start.
func (m *Module) Watch(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Start opens the session for the configured credential.
func (m *Module) Start(ctx context.Context) error {
	userID := ""
	if token, ok := m.tokens.Token(); ok {
		sub, err := auth.Subject(token)
		if err != nil {
			m.logger.Warn("Could not read user from token", "error", err)
		}
		userID = sub
	}

	logger := slog.Default().With("user", userID)
	ws := transport.New(transport.Config{
		URL: m.cfg.WSURL,
		Policy: transport.Policy{
			MaxAttempts: m.cfg.ReconnectAttempts,
			Delay:       m.cfg.ReconnectDelay,
		},
		PingInterval: 25 * time.Second,
	}, m.tokens, logger)
	api := rest.New(rest.Config{BaseURL: m.cfg.APIURL, Timeout: m.cfg.RequestTimeout}, m.tokens, logger)

	engine := NewEngine(ws, api, NotifierFunc(m.publishToast), Options{
		UserID:        userID,
		TypingTimeout: m.cfg.TypingTimeout,
		ReadMarkDelay: m.cfg.ReadMarkDelay,
		HistoryLimit:  m.cfg.HistoryLimit,
		Metrics:       m.metrics,
		Logger:        logger,
		OnChange:      m.observe,
	})

	m.mu.Lock()
	m.engine = engine
	m.userID = userID
	m.mu.Unlock()

	engine.Start(context.WithoutCancel(ctx))
	m.logger.Info("Session started", "userID", userID, "ws", m.cfg.WSURL, "api", m.cfg.APIURL)
	return nil
}

// Stop ends the session.
func (m *Module) Stop(_ context.Context) error {
	if e := m.Engine(); e != nil {
		e.Stop()
	}
	m.logger.Info("Session stopped")
	return nil
}

// Health reports the connection state. A disconnected session is still
// usable over REST, so it is reported healthy.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	e := m.Engine()
	if e == nil {
		return mono.HealthStatus{
			Healthy: false,
			Message: "session not started",
		}
	}
	s := e.Snapshot()
	return mono.HealthStatus{
		Healthy: true,
		Message: string(s.State),
		Details: map[string]any{
			"rooms":  len(s.Rooms),
			"unread": s.UnreadCount,
		},
	}
}

// Engine returns the running engine, or nil before Start.
func (m *Module) Engine() *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}

func (m *Module) observe(s Snapshot) {
	m.mu.Lock()
	changed := s.State != m.lastState
	m.lastState = s.State
	userID := m.userID
	watchers := append([]func(Snapshot){}, m.watchers...)
	m.mu.Unlock()

	if changed && m.eventBus != nil {
		event := events.ConnectionChangedEvent{
			State:     string(s.State),
			UserID:    userID,
			Timestamp: time.Now(),
		}
		if err := events.ConnectionChangedV1.Publish(m.eventBus, event, nil); err != nil {
			m.logger.Warn("Failed to publish ConnectionChanged event", "error", err)
		}
	}
	for _, fn := range watchers {
		fn(s)
	}
}

func (m *Module) publishToast(t Toast) {
	m.logger.Debug("Toast raised", "kind", t.Kind, "title", t.Title)
	if m.eventBus == nil {
		return
	}
	event := events.ToastRaisedEvent{
		ToastID:   t.ID,
		Kind:      string(t.Kind),
		Title:     t.Title,
		Body:      t.Body,
		RoomID:    t.RoomID,
		Timestamp: t.At,
	}
	if err := events.ToastRaisedV1.Publish(m.eventBus, event, nil); err != nil {
		m.logger.Warn("Failed to publish ToastRaised event", "error", err)
	}
}
