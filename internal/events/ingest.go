package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"

	"linkhub/internal/businesses"
	"linkhub/internal/models"
	"linkhub/internal/pkg/geoip"
	ua "linkhub/internal/pkg/user_agent"
)

// ErrBotTraffic is returned for requests whose user agent classifies as a bot.
var ErrBotTraffic = errors.New("bot traffic is not recorded")

var validate = validator.New(validator.WithRequiredStructEnabled())

// TrackRequest is the body accepted by POST /api/track.
type TrackRequest struct {
	Event      string          `json:"event" validate:"required,max=64"`
	SessionID  string          `json:"sessionId" validate:"required,max=128"`
	URL        string          `json:"url" validate:"max=2048"`
	Pathname   string          `json:"pathname" validate:"max=1024"`
	Referrer   *string         `json:"referrer" validate:"omitempty,max=2048"`
	UserID     *string         `json:"userId" validate:"omitempty,max=128"`
	Timestamp  string          `json:"timestamp" validate:"max=64"`
	UserAgent  string          `json:"userAgent" validate:"max=1024"`
	DeviceType string          `json:"deviceType" validate:"omitempty,oneof=mobile tablet desktop unknown"`
	Browser    string          `json:"browser" validate:"max=64"`
	Metadata   json.RawMessage `json:"metadata"`
}

// Validate checks required fields and length limits.
func (r *TrackRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &ValidationError{Field: fe.Field(), Reason: fmt.Sprintf("failed %q check", fe.Tag())}
		}
		return &ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// CollectEventInput is a decoded tracker request plus transport facts.
type CollectEventInput struct {
	Request    TrackRequest
	IPAddress  string
	UserAgent  string // request header; the body's userAgent wins when present
	ReceivedAt time.Time
}

// BuildRawEvent validates input and derives every server-side field of the stored row.
func BuildRawEvent(input *CollectEventInput) (*RawEvent, error) {
	req := &input.Request
	if err := req.Validate(); err != nil {
		return nil, err
	}

	kind, err := ParseKind(req.Event)
	if err != nil {
		return nil, err
	}

	payload, err := DecodePayload(kind, req.Metadata)
	if err != nil {
		return nil, err
	}
	metadata, err := EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}

	userAgent := strings.TrimSpace(req.UserAgent)
	if userAgent == "" {
		userAgent = strings.TrimSpace(input.UserAgent)
	}
	parsedUA := ua.ParseUserAgent(userAgent)
	if parsedUA.Bot {
		return nil, ErrBotTraffic
	}

	pathname := normalizePathname(req.Pathname, req.URL)

	received := input.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}
	received = received.UTC()

	deviceType := req.DeviceType
	if deviceType == "" || deviceType == ua.DeviceUnknown {
		deviceType = parsedUA.DeviceType()
	}
	browser := strings.TrimSpace(req.Browser)
	if browser == "" {
		browser = NormalizeBrowser(parsedUA.Browser)
	}

	loc := geoip.Lookup(input.IPAddress)

	event := &RawEvent{
		Event:           kind,
		SessionID:       req.SessionID,
		UserID:          nonEmpty(req.UserID),
		URL:             req.URL,
		Pathname:        pathname,
		BusinessSlug:    businesses.SlugFromPath(pathname),
		Referrer:        nonEmpty(req.Referrer),
		DeviceType:      deviceType,
		Browser:         browser,
		OperatingSystem: NormalizeOperatingSystem(parsedUA.OS),
		Region:          loc.Region,
		Country:         loc.Country,
		City:            loc.City,
		Metadata:        models.JSON(metadata),
		ClientTimestamp: parseClientTimestamp(req.Timestamp),
		Timestamp:       received,
		CreatedAt:       received,
	}
	return event, nil
}

// CollectEvent validates, enriches and appends a single raw event.
func CollectEvent(dbManager cartridge.DBManager, logger *slog.Logger, input *CollectEventInput) (*RawEvent, error) {
	event, err := BuildRawEvent(input)
	if err != nil {
		return nil, err
	}

	db := dbManager.GetConnection()
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		logger.Error("Failed to store raw event",
			slog.String("event", string(event.Event)),
			slog.Any("error", err))
		return nil, fmt.Errorf("failed to store raw event: %w", err)
	}

	logger.Debug("Raw event stored",
		slog.String("event", string(event.Event)),
		slog.String("pathname", event.Pathname),
		slog.String("business", event.BusinessSlug))
	return event, nil
}

// normalizePathname prefers the explicit pathname, then the path of rawURL, then "/".
func normalizePathname(pathname, rawURL string) string {
	pathname = strings.TrimSpace(pathname)
	if pathname == "" && rawURL != "" {
		if parsed, err := url.Parse(rawURL); err == nil {
			pathname = parsed.Path
		}
	}
	if pathname == "" {
		return "/"
	}
	if i := strings.IndexAny(pathname, "?#"); i >= 0 {
		pathname = pathname[:i]
	}
	if !strings.HasPrefix(pathname, "/") {
		pathname = "/" + pathname
	}
	return pathname
}

func parseClientTimestamp(value string) *time.Time {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

func nonEmpty(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// NormalizeBrowser maps parser names onto the short labels used in breakdowns.
func NormalizeBrowser(name string) string {
	switch strings.ToLower(name) {
	case "", "unknown":
		return "unknown"
	case "internet explorer":
		return "ie"
	case "mobile safari":
		return "safari"
	case "chrome mobile":
		return "chrome"
	case "microsoft edge":
		return "edge"
	case "samsung browser":
		return "samsung"
	default:
		return strings.ToLower(name)
	}
}

// NormalizeOperatingSystem normalizes operating system names to standardize them
func NormalizeOperatingSystem(os string) string {
	osLower := strings.ToLower(os)
	switch {
	case osLower == "" || osLower == "unknown":
		return "unknown"
	case strings.Contains(osLower, "ipados"):
		return "iPadOS"
	case strings.Contains(osLower, "ios") || strings.Contains(osLower, "iphone os"):
		return "iOS"
	case strings.Contains(osLower, "mac") || strings.Contains(osLower, "darwin"):
		return "MacOS"
	case strings.Contains(osLower, "android"):
		return "Android"
	case strings.Contains(osLower, "chrome os"):
		return "ChromeOS"
	case strings.Contains(osLower, "linux"):
		return "Linux"
	case strings.Contains(osLower, "windows"):
		return "Windows"
	}
	return cases.Title(language.Und).String(strings.TrimSpace(os))
}
