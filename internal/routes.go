package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	v1 "linkhub/api/v1"
	"linkhub/internal/config"
	"linkhub/internal/http"
	"linkhub/internal/http/middleware"
	"linkhub/internal/pkg/metrics"
	"linkhub/internal/reporting"
	"linkhub/internal/rollups"
)

// publicCORSConfig is shared by the tracker endpoints, which are called from every micro-site.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,GET,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent, X-Forwarded-User-Agent",
}

// MountAppRoutes mounts all application routes using cartridge's route API
func MountAppRoutes(srv *cartridge.Server) {
	cfg := config.GetConfig()
	db := srv.GetDBManager().GetConnection()
	logger := srv.GetLogger()

	// Rate limiting would interfere with tests and load generation outside production.
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// One page view alone can produce a page_view, four scroll events and a heartbeat every 15 seconds.
	trackRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(cfg.TrackRateLimitPerMinute),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// POST /api/track also serves server-side emitters, which send no Sec-Fetch-Site.
	trackConfig := &cartridge.RouteConfig{
		EnableCORS:         true,
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{trackRateLimiter},
		CORSConfig:         publicCORSConfig,
	}

	// The beacon endpoint is browser-only.
	beaconConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: append([]fiber.Handler{trackRateLimiter}, v1.BrowserOnly()...),
		CORSConfig:       publicCORSConfig,
	}

	scriptConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{trackRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	analyticsConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
		CustomMiddleware:   []fiber.Handler{middleware.AnalyticsAPIKeyAuth(cfg.AnalyticsAPIKey, logger)},
	}

	probeConfig := &cartridge.RouteConfig{
		EnableSecFetchSite: cartridge.Bool(false),
	}

	aggregator := rollups.NewAggregator(srv.GetDBManager(), logger,
		rollups.WithWorkers(cfg.RollupWorkers),
		rollups.WithBatchSize(cfg.RollupBatchSize))
	reports := reporting.NewService(srv.GetDBManager(), logger, aggregator, reporting.FromConfig(cfg))
	analytics := http.NewAnalyticsHandlers(reports, db, logger)

	srv.App().Use(metrics.Middleware())

	// === OPERATIONS ===
	srv.Get("/_health", http.HealthIndexAction, probeConfig)
	srv.Head("/_health", http.HealthIndexAction, probeConfig)
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metrics.Handler()(ctx.Ctx)
	}, probeConfig)

	// === TRACKER ===
	noContent := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}
	srv.Post("/api/track", v1.TrackHandler, trackConfig)
	srv.Options("/api/track", noContent, trackConfig)
	srv.Post("/api/track/beacon", v1.TrackBeaconHandler, beaconConfig)
	srv.Options("/api/track/beacon", noContent, beaconConfig)
	srv.Get("/tracker.js", v1.GetTrackerScriptAction, scriptConfig)

	// === REPORTING ===
	srv.Get("/api/analytics/platform", analytics.PlatformReportAction, analyticsConfig)
	srv.Get("/api/analytics/business/:business", analytics.BusinessReportAction, analyticsConfig)
	srv.Get("/api/analytics/export", analytics.ExportAction, analyticsConfig)
	srv.Get("/api/analytics/export/csv", analytics.ExportCSVAction, analyticsConfig)
	srv.Get("/api/analytics/export/json", analytics.ExportJSONAction, analyticsConfig)
	srv.Get("/api/analytics/export/xlsx", analytics.ExportXLSXAction, analyticsConfig)
}
