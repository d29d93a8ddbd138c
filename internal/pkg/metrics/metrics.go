package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhub_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkhub_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// EventsIngested counts tracker requests by outcome (stored, invalid, bot, failed) and kind.
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhub_events_ingested_total",
			Help: "Tracker events received, partitioned by outcome and event kind",
		},
		[]string{"outcome", "event"},
	)

	// RollupsComputed counts rollup writes by scope (business, platform) and result.
	RollupsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhub_rollups_computed_total",
			Help: "Rollup computations, partitioned by scope and result",
		},
		[]string{"scope", "result"},
	)

	RollupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkhub_rollup_duration_seconds",
			Help:    "Time spent computing and storing one rollup key",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"scope"},
	)

	// ReportsServed counts report queries by scope and format (json, csv, xlsx).
	ReportsServed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkhub_reports_served_total",
			Help: "Analytics reports served, partitioned by scope and format",
		},
		[]string{"scope", "format"},
	)
)

// Ingestion outcomes.
const (
	OutcomeStored  = "stored"
	OutcomeInvalid = "invalid"
	OutcomeBot     = "bot"
	OutcomeFailed  = "failed"
)

// Middleware records request counts and latencies. Labels use the matched route
// template to keep cardinality low.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Path()
		if r := c.Route(); r != nil && r.Path != "" {
			route = r.Path
		}
		labels := prometheus.Labels{
			"method": c.Method(),
			"route":  route,
			"status": strconv.Itoa(c.Response().StatusCode()),
		}
		httpRequestsTotal.With(labels).Inc()
		httpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
		return err
	}
}

// Handler exposes the default registry in the Prometheus text format.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// ObserveRollup records one rollup attempt.
func ObserveRollup(scope string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RollupsComputed.WithLabelValues(scope, result).Inc()
	RollupDuration.WithLabelValues(scope).Observe(time.Since(started).Seconds())
}
