// Package v1_test contains tests for the API v1 handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"linkhub/internal/emitter"
	"linkhub/internal/events"
	"linkhub/internal/testsupport"
)

const browserUA = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"

func trackRequest(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	var raw []byte
	switch v := body.(type) {
	case string:
		raw = []byte(v)
	default:
		var err error
		raw, err = json.Marshal(v)
		require.NoError(t, err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	return req
}

func countRawEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&events.RawEvent{}).Count(&count).Error)
	return count
}

func TestTrackHandler(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()

	t.Run("stores one row per accepted request", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := trackRequest(t, "/api/track", map[string]any{
			"event":     "business_call",
			"sessionId": "s1",
			"url":       "https://linkhub.test/business/acme",
			"pathname":  "/business/acme",
			"timestamp": "2024-01-05T10:00:00Z",
			"metadata":  map[string]any{"href": "tel:+15550100", "text": "Call us", "element": "a"},
		})

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)

		require.Equal(t, int64(1), countRawEvents(t, db))

		var stored events.RawEvent
		require.NoError(t, db.First(&stored).Error)
		assert.Equal(t, events.KindBusinessCall, stored.Event)
		assert.Equal(t, "acme", stored.BusinessSlug)
		assert.Equal(t, "mobile", stored.DeviceType)
		assert.Equal(t, "unknown", stored.Country)
	})

	t.Run("rejects missing fields with 400", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := trackRequest(t, "/api/track", map[string]any{
			"event":    "page_view",
			"pathname": "/",
		})
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var payload map[string]any
		require.NoError(t, json.Unmarshal(body, &payload))
		assert.Equal(t, "SessionID", payload["field"])
		assert.Zero(t, countRawEvents(t, db))
	})

	t.Run("rejects unknown kinds and malformed bodies", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		for _, body := range []any{
			map[string]any{"event": "teleport", "sessionId": "s1", "pathname": "/"},
			map[string]any{"event": "scroll_depth", "sessionId": "s1", "pathname": "/", "metadata": map[string]any{"depth": 33}},
			"{not json",
		} {
			resp, err := app.Test(trackRequest(t, "/api/track", body), 30000)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		}
		assert.Zero(t, countRawEvents(t, db))
	})

	t.Run("drops bot traffic silently", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := trackRequest(t, "/api/track", map[string]any{
			"event":     "page_view",
			"sessionId": "s1",
			"pathname":  "/",
			"userAgent": "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		})
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Zero(t, countRawEvents(t, db))
	})

	t.Run("accepts server-side emitters without Sec-Fetch-Site", func(t *testing.T) {
		testsupport.CleanAllTables(db)
		app := testsupport.CreateMinimalTestApp(t, db)

		req := trackRequest(t, "/api/track", map[string]any{
			"event":     "page_view",
			"sessionId": "s1",
			"pathname":  "/",
		})
		req.Header.Del("Sec-Fetch-Site")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, int64(1), countRawEvents(t, db))
	})
}

func TestTrackBeaconHandler(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)
	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("stores text/plain beacons", func(t *testing.T) {
		req := trackRequest(t, "/api/track/beacon", map[string]any{
			"event":     "page_exit",
			"sessionId": "s1",
			"pathname":  "/business/acme",
			"metadata":  map[string]any{"timeOnPage": 42, "maxScrollDepth": 50},
		})
		req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, int64(1), countRawEvents(t, db))
	})

	t.Run("answers 204 even when the event is rejected", func(t *testing.T) {
		req := trackRequest(t, "/api/track/beacon", "{broken")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, int64(1), countRawEvents(t, db))
	})

	t.Run("refuses requests without Sec-Fetch-Site", func(t *testing.T) {
		req := trackRequest(t, "/api/track/beacon", map[string]any{
			"event":     "page_view",
			"sessionId": "s2",
			"pathname":  "/",
		})
		req.Header.Del("Sec-Fetch-Site")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, int64(1), countRawEvents(t, db))
	})
}

func TestGetTrackerScriptAction(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	app := testsupport.CreateMinimalTestApp(t, dbManager.GetConnection())

	resp, err := app.Test(httptest.NewRequest("GET", "/tracker.js", nil), 30000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/javascript", resp.Header.Get("Content-Type"))
	assert.Equal(t, "cross-origin", resp.Header.Get("Cross-Origin-Resource-Policy"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	script := string(body)
	assert.Contains(t, script, "/api/track/beacon")
	assert.Contains(t, script, `var COOKIE = "linkhub_sid";`)
	assert.Contains(t, script, "var SESSION_MINUTES = 30;")
	assert.Contains(t, script, `var BUSINESS_PREFIX = "/business/";`)
	excluded, err := json.Marshal(emitter.ExcludedPrefixes)
	require.NoError(t, err)
	assert.Contains(t, script, "var EXCLUDED = "+string(excluded)+";")
	assert.Contains(t, script, `path === prefix || path.indexOf(prefix + "/") === 0`)
	assert.Contains(t, script, `closest("a,button,[data-track]")`)
	assert.False(t, strings.Contains(script, "{{"), "template must be fully rendered")

	etag := resp.Header.Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest("GET", "/tracker.js", nil)
	req.Header.Set("If-None-Match", etag)
	resp, err = app.Test(req, 30000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)
}
