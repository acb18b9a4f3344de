package emulator

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/chat-sync-client/auth"
)

// UserContextKey is the Fiber locals key holding the authenticated user id.
const UserContextKey = "userID"

// AuthMiddleware validates the bearer token and stores its subject in the
// request locals. Browsers cannot set headers on a socket handshake, so a
// token query parameter is accepted as well.
func AuthMiddleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			if !strings.HasPrefix(header, "Bearer ") {
				return fail(c, fiber.StatusUnauthorized, "Invalid authorization header format. Use: Bearer <token>")
			}
			token = strings.TrimPrefix(header, "Bearer ")
		}
		if token == "" {
			return fail(c, fiber.StatusUnauthorized, "Authorization header is required")
		}

		userID, err := auth.Verify(secret, token)
		if err != nil {
			return fail(c, fiber.StatusUnauthorized, "Invalid or expired token")
		}

		c.Locals(UserContextKey, userID)
		return c.Next()
	}
}

func currentUser(c *fiber.Ctx) string {
	id, _ := c.Locals(UserContextKey).(string)
	return id
}
