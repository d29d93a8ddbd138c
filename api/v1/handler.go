package v1

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linkhub/internal/events"
	"linkhub/internal/pkg/metrics"
)

const (
	errInvalidRequest = "Invalid request"
	errCollection     = "Failed to collect event"
)

// ingestResult is the outcome of one tracker request.
type ingestResult struct {
	status int
	body   fiber.Map
}

// TrackHandler accepts one tracker event as JSON and appends it to the raw event log.
// Success and bot traffic both answer 204 with no body.
func TrackHandler(ctx *cartridge.Context) error {
	res := ingest(ctx)
	if res.body == nil {
		return ctx.SendStatus(res.status)
	}
	return ctx.Status(res.status).JSON(res.body)
}

// TrackBeaconHandler is the navigator.sendBeacon variant of TrackHandler.
// Browsers ignore beacon responses, so every outcome answers 204.
func TrackBeaconHandler(ctx *cartridge.Context) error {
	res := ingest(ctx)
	if res.status >= http.StatusBadRequest {
		ctx.Logger.Debug("Beacon event rejected",
			slog.Int("status", res.status),
			slog.Any("reason", res.body))
	}
	return ctx.SendStatus(http.StatusNoContent)
}

func ingest(ctx *cartridge.Context) ingestResult {
	var req events.TrackRequest
	// Beacons arrive as text/plain, so the body is decoded directly rather than through BodyParser.
	if err := json.Unmarshal(ctx.Body(), &req); err != nil {
		metrics.EventsIngested.WithLabelValues(metrics.OutcomeInvalid, "unknown").Inc()
		ctx.Logger.Debug("Failed to decode track request", slog.Any("error", err))
		return ingestResult{status: http.StatusBadRequest, body: fiber.Map{"error": errInvalidRequest}}
	}
	kind := kindLabel(req.Event)

	input := &events.CollectEventInput{
		Request:    req,
		IPAddress:  getClientIP(ctx.Ctx),
		UserAgent:  requestUserAgent(ctx.Ctx),
		ReceivedAt: time.Now(),
	}

	event, err := events.CollectEvent(ctx.DBManager, ctx.Logger, input)
	if err != nil {
		var validationErr *events.ValidationError
		switch {
		case errors.As(err, &validationErr):
			metrics.EventsIngested.WithLabelValues(metrics.OutcomeInvalid, kind).Inc()
			return ingestResult{status: http.StatusBadRequest, body: fiber.Map{
				"error": validationErr.Error(),
				"field": validationErr.Field,
			}}
		case errors.Is(err, events.ErrBotTraffic):
			metrics.EventsIngested.WithLabelValues(metrics.OutcomeBot, kind).Inc()
			return ingestResult{status: http.StatusNoContent}
		default:
			metrics.EventsIngested.WithLabelValues(metrics.OutcomeFailed, kind).Inc()
			ctx.Logger.Error("Failed to collect event", slog.Any("error", err))
			return ingestResult{status: http.StatusInternalServerError, body: fiber.Map{"error": errCollection}}
		}
	}

	metrics.EventsIngested.WithLabelValues(metrics.OutcomeStored, kind).Inc()
	ctx.Logger.Debug("Collected event",
		slog.String("event", string(event.Event)),
		slog.String("business", event.BusinessSlug))
	return ingestResult{status: http.StatusNoContent}
}

// requestUserAgent prefers X-Forwarded-User-Agent, which server-side proxies set on behalf of the browser.
func requestUserAgent(c *fiber.Ctx) string {
	if forwarded := c.Get("X-Forwarded-User-Agent"); forwarded != "" {
		return forwarded
	}
	return c.Get(fiber.HeaderUserAgent)
}

// kindLabel bounds the metric label to known kinds.
func kindLabel(raw string) string {
	kind, err := events.ParseKind(raw)
	if err != nil {
		return "unknown"
	}
	return string(kind)
}
