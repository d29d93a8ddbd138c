package http

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	"gorm.io/gorm"

	"linkhub/internal/businesses"
	"linkhub/internal/export"
	"linkhub/internal/pkg/metrics"
	"linkhub/internal/reporting"
)

const slugCacheTTL = 5 * time.Minute

// AnalyticsHandlers serves the reporting and export endpoints.
type AnalyticsHandlers struct {
	reports *reporting.Service
	slugIDs *cache.Cache[string, uint]
}

// NewAnalyticsHandlers wires the handlers to a reporting service. Slug lookups are cached.
func NewAnalyticsHandlers(reports *reporting.Service, db *gorm.DB, logger *slog.Logger) *AnalyticsHandlers {
	fetch := func(slug string) (uint, error) {
		business, err := businesses.GetBusinessBySlug(db, slug)
		if err != nil {
			return 0, err
		}
		return business.ID, nil
	}
	return &AnalyticsHandlers{
		reports: reports,
		slugIDs: cache.NewCache[string, uint](logger, slugCacheTTL, fetch),
	}
}

// BusinessReportAction returns the report of one business, addressed by ID or slug.
func (h *AnalyticsHandlers) BusinessReportAction(ctx *cartridge.Context) error {
	id, err := h.resolveBusiness(ctx, ctx.Params("business"))
	if err != nil {
		return businessError(ctx, err)
	}

	report, err := h.reports.BusinessReport(ctx.UserContext(), id, ctx.QueryInt("days", 0))
	if err != nil {
		return businessError(ctx, err)
	}
	metrics.ReportsServed.WithLabelValues("business", export.FormatJSON).Inc()
	return ctx.JSON(report)
}

// PlatformReportAction returns the platform-wide report.
func (h *AnalyticsHandlers) PlatformReportAction(ctx *cartridge.Context) error {
	report, err := h.reports.PlatformReport(ctx.UserContext(), ctx.QueryInt("days", 0))
	if err != nil {
		ctx.Logger.Error("Failed to build platform report", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to build report"})
	}
	metrics.ReportsServed.WithLabelValues(export.PlatformScope, export.FormatJSON).Inc()
	return ctx.JSON(report)
}

// ExportAction downloads a report in the ?format= given (csv when absent).
func (h *AnalyticsHandlers) ExportAction(ctx *cartridge.Context) error {
	return h.export(ctx, strings.ToLower(ctx.Query("format", export.FormatCSV)))
}

// ExportCSVAction serves /api/analytics/export/csv.
func (h *AnalyticsHandlers) ExportCSVAction(ctx *cartridge.Context) error {
	return h.export(ctx, export.FormatCSV)
}

// ExportJSONAction serves /api/analytics/export/json; ?includeEvents=true embeds recent events.
func (h *AnalyticsHandlers) ExportJSONAction(ctx *cartridge.Context) error {
	return h.export(ctx, export.FormatJSON)
}

// ExportXLSXAction serves /api/analytics/export/xlsx.
func (h *AnalyticsHandlers) ExportXLSXAction(ctx *cartridge.Context) error {
	return h.export(ctx, export.FormatXLSX)
}

// export renders the business report named by ?businessId= (or its ?business= alias),
// or the platform report when neither is present.
func (h *AnalyticsHandlers) export(ctx *cartridge.Context, format string) error {
	switch format {
	case export.FormatCSV, export.FormatJSON, export.FormatXLSX:
	default:
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("unsupported format %q", format),
		})
	}

	dataset, scope, err := h.dataset(ctx)
	if err != nil {
		return businessError(ctx, err)
	}

	var (
		content     []byte
		contentType string
	)
	switch format {
	case export.FormatCSV:
		content, err = export.CSV(dataset)
		contentType = "text/csv; charset=utf-8"
	case export.FormatJSON:
		content, err = export.JSON(dataset, ctx.QueryBool("includeEvents", false))
		contentType = fiber.MIMEApplicationJSONCharsetUTF8
	case export.FormatXLSX:
		content, err = export.XLSX(dataset)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		ctx.Logger.Error("Failed to render export", slog.String("format", format), slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to render export"})
	}

	metrics.ReportsServed.WithLabelValues(scope, format).Inc()
	ctx.Set(fiber.HeaderContentType, contentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, dataset.Filename(format)))
	return ctx.Send(content)
}

func (h *AnalyticsHandlers) dataset(ctx *cartridge.Context) (export.Dataset, string, error) {
	days := ctx.QueryInt("days", 0)
	key := ctx.Query("businessId", ctx.Query("business"))
	if key == "" {
		report, err := h.reports.PlatformReport(ctx.UserContext(), days)
		if err != nil {
			return export.Dataset{}, "", err
		}
		return export.FromPlatformReport(report), export.PlatformScope, nil
	}

	id, err := h.resolveBusiness(ctx, key)
	if err != nil {
		return export.Dataset{}, "", err
	}
	report, err := h.reports.BusinessReport(ctx.UserContext(), id, days)
	if err != nil {
		return export.Dataset{}, "", err
	}
	return export.FromBusinessReport(report), "business", nil
}

// resolveBusiness accepts a numeric ID or a slug.
func (h *AnalyticsHandlers) resolveBusiness(ctx *cartridge.Context, key string) (uint, error) {
	if id, err := strconv.ParseUint(key, 10, 64); err == nil {
		return uint(id), nil
	}
	slug := strings.ToLower(strings.TrimSpace(key))
	if slug == "" {
		return 0, businesses.NewNotFoundError(key)
	}
	if id, err := h.slugIDs.Get(slug); err == nil {
		return id, nil
	}
	// Misses are not cached; the database decides between not-found and failure.
	business, err := businesses.GetBusinessBySlug(ctx.DBManager.GetConnection(), slug)
	if err != nil {
		return 0, err
	}
	return business.ID, nil
}

func businessError(ctx *cartridge.Context, err error) error {
	if businesses.IsNotFound(err) {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	ctx.Logger.Error("Failed to build business report", slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to build report"})
}
