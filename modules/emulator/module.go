// Package emulator is an in-memory chat backend that speaks the same REST and
// socket protocol as the production server. It is meant for local development
// and end-to-end tests.
package emulator

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/go-monolith/mono"
	"github.com/go-monolith/mono/pkg/types"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/chat-sync-client/auth"
	"github.com/example/chat-sync-client/config"
)

// Module runs the emulator HTTP and socket server.
type Module struct {
	cfg      config.Emulator
	addr     string
	store    *Store
	hub      *Hub
	registry *prometheus.Registry
	handlers *Handlers
	app      *fiber.App
	listener net.Listener
	stopHub  context.CancelFunc
	seeded   []User
	logger   types.Logger
}

// Compile-time interface checks.
var _ mono.Module = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates the emulator. addr is the listen address, for example
// ":3000" or "127.0.0.1:0".
func NewModule(cfg config.Emulator, addr string, moduleLogger types.Logger) *Module {
	if addr == "" {
		addr = ":" + cfg.Port
	}
	registry := prometheus.NewRegistry()
	store := NewStore(0)
	seeded := Seed(store, cfg.SeedUsers, time.Now().UnixNano())
	hub := NewHub(slog.Default().With("module", "emulator"))
	service := NewService(store, hub, newMetrics(registry), slog.Default().With("module", "emulator"))

	return &Module{
		cfg:      cfg,
		addr:     addr,
		store:    store,
		hub:      hub,
		registry: registry,
		seeded:   seeded,
		handlers: NewHandlers(service, []byte(cfg.JWTSecret), cfg.TokenTTL, slog.Default().With("module", "emulator")),
		logger:   moduleLogger,
	}
}

// Name returns the module name.
func (m *Module) Name() string {
	return "emulator"
}

// Store exposes the backing store.
func (m *Module) Store() *Store {
	return m.store
}

// Addr returns the bound listen address once started.
func (m *Module) Addr() string {
	if m.listener == nil {
		return m.addr
	}
	return m.listener.Addr().String()
}

// Start binds the listener and serves in the background.
func (m *Module) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("emulator failed to listen on %s: %w", m.addr, err)
	}
	m.listener = ln

	hubCtx, cancel := context.WithCancel(context.Background())
	m.stopHub = cancel
	go m.hub.Run(hubCtx)

	m.app = m.newApp()
	go func() {
		if err := m.app.Listener(ln); err != nil {
			m.logger.Error("Emulator server stopped", "error", err)
		}
	}()

	m.logger.Info("Emulator started", "addr", ln.Addr().String())
	for _, u := range m.seeded {
		token, err := auth.Issue([]byte(m.cfg.JWTSecret), u.ID, u.Name, m.cfg.TokenTTL)
		if err != nil {
			return fmt.Errorf("failed to issue token for %s: %w", u.ID, err)
		}
		m.logger.Info("Demo user", "id", u.ID, "name", u.Name, "token", token)
	}
	return nil
}

// Stop closes every socket and shuts the server down.
func (m *Module) Stop(ctx context.Context) error {
	clients := m.hub.ClientCount()
	if m.stopHub != nil {
		m.stopHub()
		m.hub.Wait()
	}
	if m.app != nil {
		if err := m.app.ShutdownWithContext(ctx); err != nil {
			return fmt.Errorf("failed to shutdown emulator: %w", err)
		}
	}
	m.logger.Info("Emulator stopped", "clients", clients)
	return nil
}

// Health returns the health status.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	details := m.store.Stats()
	details["connections"] = m.hub.ClientCount()
	details["addr"] = m.Addr()
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: details,
	}
}

func (m *Module) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Chat Emulator",
		DisableStartupMessage: true,
		ErrorHandler:          m.errorHandler,
		ReadTimeout:           30 * time.Second,
		IdleTimeout:           120 * time.Second,
	})

	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} ${method} ${path} ${latency}\n",
		Next: func(c *fiber.Ctx) bool {
			return websocket.IsWebSocketUpgrade(c) || c.Path() == "/metrics"
		},
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: m.cfg.CORSOrigins,
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))

	m.registerRoutes(app)
	return app
}

func (m *Module) registerRoutes(app *fiber.App) {
	h := m.handlers

	app.Get("/health", h.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})))
	app.Post("/api/auth/token", h.Login)

	authed := AuthMiddleware([]byte(m.cfg.JWTSecret))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, authed)
	app.Get("/ws", websocket.New(h.HandleWebSocket))

	app.Get("/api/users", authed, h.ListUsers)

	api := app.Group("/api/chat", authed)
	api.Get("/rooms", h.ListRooms)
	api.Post("/rooms", h.CreateRoom)
	api.Get("/rooms/:id/messages", h.GetMessages)
	api.Post("/rooms/:id/messages", h.SendMessage)
	api.Put("/rooms/:id/read", h.MarkRead)
	api.Get("/unread-count", h.UnreadCount)
}

// errorHandler renders unhandled errors in the response envelope.
func (m *Module) errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}
	if code >= fiber.StatusInternalServerError {
		m.logger.Error("HTTP error", "code", code, "path", c.Path(), "error", err)
	}

	return fail(c, code, strings.TrimSpace(message))
}
