package v1

import (
	"github.com/gofiber/fiber/v2"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
)

// BrowserFetchSites are the Sec-Fetch-Site values a browser sends for the beacon endpoint.
var BrowserFetchSites = []string{"cross-site", "same-site", "same-origin", "none"}

// BrowserOnly returns the middleware chain for endpoints only browsers should reach.
// Requests without Sec-Fetch-Site are refused outright; cartridge then checks the value.
func BrowserOnly() []fiber.Handler {
	requireHeader := func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost && c.Get("Sec-Fetch-Site") == "" {
			return c.SendStatus(fiber.StatusForbidden)
		}
		return c.Next()
	}
	return []fiber.Handler{
		requireHeader,
		cartridgemiddleware.SecFetchSiteMiddleware(cartridgemiddleware.SecFetchSiteConfig{
			AllowedValues: BrowserFetchSites,
			Methods:       []string{fiber.MethodPost},
		}),
	}
}
