package middleware

import (
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyticsAPIKeyAuth(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	newApp := func(key string) *fiber.App {
		app := fiber.New()
		app.Get("/api/analytics/platform", AnalyticsAPIKeyAuth(key, logger), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusOK)
		})
		return app
	}

	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{name: "open when unconfigured", key: "", header: "", want: fiber.StatusOK},
		{name: "missing header", key: "secret", header: "", want: fiber.StatusUnauthorized},
		{name: "wrong scheme", key: "secret", header: "Basic secret", want: fiber.StatusUnauthorized},
		{name: "wrong key", key: "secret", header: "Bearer guess", want: fiber.StatusUnauthorized},
		{name: "valid key", key: "secret", header: "Bearer secret", want: fiber.StatusOK},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/analytics/platform", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := newApp(tc.key).Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
