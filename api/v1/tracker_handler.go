package v1

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"log/slog"
	"text/template"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"linkhub/internal/businesses"
	"linkhub/internal/config"
	"linkhub/internal/emitter"
)

//go:embed tracker.js
var trackerSource string

var trackerTemplate = template.Must(template.New("tracker.js").Parse(trackerSource))

// trackerData is what tracker.js is rendered with. Strings are JSON encoded so
// they land in the script as literals.
func trackerData(baseURL string, cfg *config.Config) (map[string]any, error) {
	excluded, err := json.Marshal(emitter.ExcludedPrefixes)
	if err != nil {
		return nil, err
	}
	cookie, err := json.Marshal(cfg.SessionCookieName)
	if err != nil {
		return nil, err
	}
	prefix, err := json.Marshal(businesses.PathPrefix)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"BaseURL":        baseURL,
		"CookieName":     string(cookie),
		"SessionMinutes": cfg.SessionTimeout().Minutes(),
		"Excluded":       string(excluded),
		"BusinessPrefix": string(prefix),
	}, nil
}

// GetTrackerScriptAction serves the browser tracker with the endpoint, the session
// cookie and the trackable-path rules baked in.
func GetTrackerScriptAction(ctx *cartridge.Context) error {
	var buf bytes.Buffer
	data, err := trackerData(ctx.BaseURL(), config.GetConfig())
	if err == nil {
		err = trackerTemplate.Execute(&buf, data)
	}
	if err != nil {
		ctx.Logger.Error("Failed to render tracker script", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).SendString("Internal Server Error")
	}

	content := buf.Bytes()
	etag := generateETag(content)
	if ctx.Get(fiber.HeaderIfNoneMatch) == etag {
		return ctx.Status(fiber.StatusNotModified).Send(nil)
	}

	ctx.Set(fiber.HeaderContentType, "application/javascript")
	ctx.Set(fiber.HeaderCacheControl, "public, max-age=3600")
	ctx.Set(fiber.HeaderETag, etag)
	ctx.Set("Cross-Origin-Resource-Policy", "cross-origin")
	return ctx.Send(content)
}
