package emulator

import (
	"errors"
	"log/slog"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/gofiber/fiber/v2"

	"github.com/example/chat-sync-client/auth"
	"github.com/example/chat-sync-client/domain/chat"
)

// Handlers contains the HTTP and socket handlers.
type Handlers struct {
	service  *Service
	store    *Store
	hub      *Hub
	metrics  *metrics
	secret   []byte
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(service *Service, secret []byte, tokenTTL time.Duration, logger *slog.Logger) *Handlers {
	return &Handlers{
		service:  service,
		store:    service.store,
		hub:      service.hub,
		metrics:  service.metrics,
		secret:   secret,
		tokenTTL: tokenTTL,
		logger:   logger,
	}
}

// Login handles POST /api/auth/token. Unknown users are registered on the
// fly; there is no password check.
func (h *Handlers) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.UserID == "" {
		return fail(c, fiber.StatusBadRequest, "userId is required")
	}

	user, found := h.store.GetUser(req.UserID)
	if !found || (req.Name != "" && req.Name != user.Name) {
		user = User{ID: req.UserID, Name: req.Name, Avatar: user.Avatar}
		if user.Name == "" {
			user.Name = gofakeit.Name()
		}
		h.store.PutUser(user)
	}

	token, err := auth.Issue(h.secret, user.ID, user.Name, h.tokenTTL)
	if err != nil {
		h.logger.Error("Failed to issue token", "user", user.ID, "error", err)
		return fail(c, fiber.StatusInternalServerError, "Failed to issue token")
	}
	return ok(c, fiber.StatusOK, LoginResponse{Token: token, User: user})
}

// ListUsers handles GET /api/users.
func (h *Handlers) ListUsers(c *fiber.Ctx) error {
	return ok(c, fiber.StatusOK, h.store.ListUsers())
}

// ListRooms handles GET /api/chat/rooms.
func (h *Handlers) ListRooms(c *fiber.Ctx) error {
	return ok(c, fiber.StatusOK, h.store.ListRooms(currentUser(c)))
}

// CreateRoom handles POST /api/chat/rooms.
func (h *Handlers) CreateRoom(c *fiber.Ctx) error {
	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if req.OtherUserID == "" {
		return fail(c, fiber.StatusBadRequest, "otherUserId is required")
	}

	room, err := h.service.OpenRoom(currentUser(c), req.OtherUserID)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, fiber.StatusOK, room)
}

// GetMessages handles GET /api/chat/rooms/:id/messages.
func (h *Handlers) GetMessages(c *fiber.Ctx) error {
	page := chat.Page{
		Limit:  c.QueryInt("limit", chat.DefaultPageLimit),
		Offset: c.QueryInt("offset", 0),
	}
	msgs, err := h.service.History(c.Params("id"), currentUser(c), page)
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, fiber.StatusOK, msgs)
}

// SendMessage handles POST /api/chat/rooms/:id/messages.
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	var d chat.Draft
	if err := c.BodyParser(&d); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if d.Type == "" {
		d.Type = chat.TypeText
	}

	msg, err := h.service.Send(c.Params("id"), currentUser(c), d, "rest")
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, fiber.StatusCreated, msg)
}

// MarkRead handles PUT /api/chat/rooms/:id/read.
func (h *Handlers) MarkRead(c *fiber.Ctx) error {
	n, err := h.service.MarkRead(c.Params("id"), currentUser(c))
	if err != nil {
		return failErr(c, err)
	}
	return ok(c, fiber.StatusOK, ReadResponse{MarkedCount: n})
}

// UnreadCount handles GET /api/chat/unread-count.
func (h *Handlers) UnreadCount(c *fiber.Ctx) error {
	return ok(c, fiber.StatusOK, UnreadResponse{UnreadCount: h.store.UnreadCount(currentUser(c))})
}

// HealthCheck handles GET /health.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	details := h.store.Stats()
	details["connections"] = h.hub.ClientCount()
	return ok(c, fiber.StatusOK, fiber.Map{
		"status":  "healthy",
		"service": "chat-emulator",
		"details": details,
	})
}

func ok(c *fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(Response{Success: true, Data: data})
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(Response{Success: false, Message: message})
}

func failErr(c *fiber.Ctx, err error) error {
	return fail(c, statusFor(err), err.Error())
}

// statusFor maps store and validation errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrRoomNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrNotMember):
		return fiber.StatusForbidden
	case errors.Is(err, ErrSelfRoom),
		errors.Is(err, chat.ErrInvalidMessageType),
		errors.Is(err, chat.ErrMissingFileURL),
		errors.Is(err, chat.ErrEmptyContent):
		return fiber.StatusBadRequest
	}
	return fiber.StatusInternalServerError
}
