package middleware

import (
	"crypto/subtle"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// AnalyticsAPIKeyAuth guards the reporting endpoints.
// Expects: Authorization: Bearer <api_key>. An empty expected key leaves the endpoints open.
func AnalyticsAPIKeyAuth(expected string, logger *slog.Logger) fiber.Handler {
	if expected == "" {
		logger.Warn("Analytics API key not configured, reporting endpoints are unauthenticated")
		return func(c *fiber.Ctx) error { return c.Next() }
	}

	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		providedKey, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <api_key>",
			})
		}

		if subtle.ConstantTimeCompare([]byte(providedKey), []byte(expected)) != 1 {
			logger.Debug("Rejected analytics request", slog.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid API key",
			})
		}

		return c.Next()
	}
}
