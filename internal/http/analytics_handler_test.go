package http_test

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"linkhub/internal/events"
	"linkhub/internal/export"
	"linkhub/internal/testsupport"
)

func get(t *testing.T, app *fiber.App, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil), 30000)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, body
}

func TestAnalyticsEndpoints(t *testing.T) {
	dbManager, _ := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	acme := testsupport.CreateTestBusiness(t, db, "acme", "Acme Plumbing", "Trades")
	now := time.Now().UTC()
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "s1", Pathname: "/", At: now})
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "s1", Pathname: "/business/acme", At: now})
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindBusinessCall, SessionID: "s1", Pathname: "/business/acme", At: now,
		Metadata: map[string]any{"href": "tel:+15550100"}})

	app := testsupport.CreateMinimalTestApp(t, db)

	t.Run("business report by id and slug", func(t *testing.T) {
		for _, key := range []string{strconv.FormatUint(uint64(acme.ID), 10), "acme", "ACME"} {
			resp, body := get(t, app, "/api/analytics/business/"+key+"?days=7")
			require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

			var report map[string]any
			require.NoError(t, json.Unmarshal(body, &report))
			summary := report["summary"].(map[string]any)
			assert.Equal(t, float64(1), summary["totalViews"])
			assert.Equal(t, float64(1), summary["totalContactActions"])
			assert.Len(t, report["dailyData"], 7)
		}
	})

	t.Run("unknown business is 404", func(t *testing.T) {
		resp, _ := get(t, app, "/api/analytics/business/ghost")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		resp, _ = get(t, app, "/api/analytics/business/9999")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("platform report", func(t *testing.T) {
		resp, body := get(t, app, "/api/analytics/platform?days=1")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var report map[string]any
		require.NoError(t, json.Unmarshal(body, &report))
		summary := report["summary"].(map[string]any)
		assert.Equal(t, float64(2), summary["totalViews"])
		assert.Len(t, report["funnel"], 3)
	})

	t.Run("csv export", func(t *testing.T) {
		resp, body := get(t, app, "/api/analytics/export?format=csv&business=acme&days=3")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "linkhub-analytics-acme-")

		records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 4)
		assert.Equal(t, export.Columns, records[0])
	})

	t.Run("json export", func(t *testing.T) {
		resp, body := get(t, app, "/api/analytics/export?format=json&includeEvents=true")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "linkhub-analytics-platform-")

		var doc map[string]any
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, export.PlatformScope, doc["scope"])
		assert.NotEmpty(t, doc["events"])
	})

	t.Run("xlsx export", func(t *testing.T) {
		resp, body := get(t, app, "/api/analytics/export?format=xlsx&business=acme")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		xl, err := excelize.OpenReader(strings.NewReader(string(body)))
		require.NoError(t, err)
		defer xl.Close()
		assert.Contains(t, xl.GetSheetList(), export.SheetDaily)
	})

	t.Run("csv export by businessId", func(t *testing.T) {
		id := strconv.FormatUint(uint64(acme.ID), 10)
		resp, body := get(t, app, "/api/analytics/export/csv?businessId="+id+"&days=3")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/csv")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "linkhub-analytics-acme-")

		records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 4)
		assert.Equal(t, export.Columns, records[0])
	})

	t.Run("json export by businessId", func(t *testing.T) {
		id := strconv.FormatUint(uint64(acme.ID), 10)
		resp, body := get(t, app, "/api/analytics/export/json?businessId="+id+"&days=7&includeEvents=true")
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "linkhub-analytics-acme-")

		var doc map[string]any
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, "acme", doc["scope"])
		assert.NotEmpty(t, doc["events"])
	})

	t.Run("json export without businessId is platform wide", func(t *testing.T) {
		resp, body := get(t, app, "/api/analytics/export/json?days=1")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), "linkhub-analytics-platform-")

		var doc map[string]any
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, export.PlatformScope, doc["scope"])
		assert.NotContains(t, doc, "events")
	})

	t.Run("xlsx export path", func(t *testing.T) {
		resp, body := get(t, app, "/api/analytics/export/xlsx?businessId=acme")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Disposition"), ".xlsx")

		xl, err := excelize.OpenReader(strings.NewReader(string(body)))
		require.NoError(t, err)
		defer xl.Close()
		assert.Contains(t, xl.GetSheetList(), export.SheetDaily)
	})

	t.Run("unknown businessId is 404", func(t *testing.T) {
		resp, _ := get(t, app, "/api/analytics/export/csv?businessId=9999")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("health", func(t *testing.T) {
		resp, body := get(t, app, "/_health")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health map[string]any
		require.NoError(t, json.Unmarshal(body, &health))
		assert.Equal(t, "ok", health["status"])
		assert.Equal(t, "ok", health["db_status"])
		assert.NotContains(t, health, "last_rollup")
	})

	t.Run("rejects unknown formats", func(t *testing.T) {
		resp, _ := get(t, app, "/api/analytics/export?format=pdf")
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
