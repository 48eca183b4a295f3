package http

import (
	"strings"

	"artifact-semantics/internal/shared/contextkeys"
	"artifact-semantics/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// RequestIDMiddleware tags every request with an identifier that flows into
// the decision log and structured logging.
func RequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Locals(string(contextkeys.RequestIDKey), requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	}
}

// AuthMiddleware validates a bearer token signed with the configured HMAC
// secret. An empty secret disables authentication entirely, which suits
// embedded and development deployments.
func AuthMiddleware(secret string, log logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}

		header := c.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing bearer token",
			})
		}
		tokenString := strings.TrimPrefix(header, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			log.Warnf("rejected request with invalid token: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
			})
		}

		c.Locals(string(contextkeys.ClaimsKey), token.Claims)
		return c.Next()
	}
}
