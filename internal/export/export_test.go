package export_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"linkhub/internal/events"
	"linkhub/internal/export"
	"linkhub/internal/models"
	"linkhub/internal/reporting"
	"linkhub/internal/rollups"
	"linkhub/internal/testsupport"
	"linkhub/internal/timeframe"
)

func sampleDataset() export.Dataset {
	return export.Dataset{
		Scope: "acme",
		Range: reporting.Range{From: "2024-01-01", To: "2024-01-03", Days: 3},
		Daily: []reporting.DailyPoint{
			{Date: "2024-01-01", PageViews: 4, Visitors: 2, Calls: 1, TotalTimeOnPage: 90, AvgTimeOnPage: 45, ScrollDepthAvg: 62.5},
			{Date: "2024-01-02"},
			{Date: "2024-01-03", PageViews: 1, Visitors: 1, Whatsapp: 1},
		},
		Summary: reporting.Summary{TotalViews: 5, UniqueVisitors: 3},
		Totals: rollups.Metrics{
			Views:           5,
			DeviceBreakdown: models.Breakdown{"mobile": 3, "desktop": 2},
			RegionBreakdown: models.Breakdown{"Ontario": 5},
			TopHours:        models.Breakdown{"09": 5},
		},
		Events: []events.RawEvent{{Event: events.KindPageView, SessionID: "s1"}},
	}
}

func TestFilename(t *testing.T) {
	r := reporting.Range{From: "2024-01-01", To: "2024-01-30"}
	assert.Equal(t, "linkhub-analytics-acme-2024-01-01-to-2024-01-30.csv", export.Filename("acme", r, export.FormatCSV))
	assert.Equal(t, "linkhub-analytics-platform-2024-01-01-to-2024-01-30.json", export.Filename("", r, export.FormatJSON))
}

func TestCSV(t *testing.T) {
	out, err := export.CSV(sampleDataset())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t,
		[]string{"date", "views", "unique_visitors", "calls", "emails", "whatsapp", "website_clicks", "total_time_on_page", "avg_time_on_page", "scroll_depth_avg"},
		records[0])
	assert.Equal(t, []string{"2024-01-01", "4", "2", "1", "0", "0", "0", "90", "45", "62.5"}, records[1])
	assert.Equal(t, []string{"2024-01-02", "0", "0", "0", "0", "0", "0", "0", "0", "0"}, records[2])
}

func TestJSON(t *testing.T) {
	t.Run("without events", func(t *testing.T) {
		out, err := export.JSON(sampleDataset(), false)
		require.NoError(t, err)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(out, &doc))
		assert.NotContains(t, doc, "events")
		breakdowns := doc["breakdowns"].(map[string]any)
		assert.Equal(t, map[string]any{"mobile": 3.0, "desktop": 2.0}, breakdowns["device"])
		assert.Equal(t, map[string]any{}, breakdowns["browser"])
		assert.Len(t, doc["dailyData"], 3)
	})

	t.Run("with events", func(t *testing.T) {
		out, err := export.JSON(sampleDataset(), true)
		require.NoError(t, err)

		var doc export.Document
		require.NoError(t, json.Unmarshal(out, &doc))
		require.Len(t, doc.Events, 1)
		assert.Equal(t, "s1", doc.Events[0].SessionID)
	})
}

func TestXLSX(t *testing.T) {
	out, err := export.XLSX(sampleDataset())
	require.NoError(t, err)

	xl, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer xl.Close()

	assert.Equal(t, []string{export.SheetDaily, export.SheetDevices, export.SheetRegions, export.SheetHours}, xl.GetSheetList())

	rows, err := xl.GetRows(export.SheetDaily)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "Unique Visitors", rows[0][2])
	assert.Equal(t, "Scroll Depth Avg", rows[0][9])

	devices, err := xl.GetRows(export.SheetDevices)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Device", "Count"}, {"mobile", "3"}, {"desktop", "2"}}, devices)
}

func TestCSVTotalsMatchJSONSummary(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	now := time.Date(2024, 1, 5, 18, 0, 0, 0, time.UTC)
	clock := timeframe.FixedTimeProvider{At: now}
	acme := testsupport.CreateTestBusiness(t, db, "acme", "Acme", "")

	for day := 0; day < 4; day++ {
		for i := 0; i <= day; i++ {
			testsupport.InsertRawEvent(t, db, testsupport.EventSpec{
				Kind: events.KindPageView, SessionID: "s" + strconv.Itoa(i), Pathname: "/business/acme",
				At: now.AddDate(0, 0, -day).Add(-time.Hour),
			})
		}
	}

	aggregator := rollups.NewAggregator(dbManager, logger, rollups.WithClock(clock))
	// half the days stored, half computed on read
	_, err := aggregator.RollupBusinessDay(context.Background(), acme.ID, now.AddDate(0, 0, -1))
	require.NoError(t, err)
	_, err = aggregator.RollupBusinessDay(context.Background(), acme.ID, now.AddDate(0, 0, -3))
	require.NoError(t, err)

	service := reporting.NewService(dbManager, logger, aggregator, reporting.WithClock(clock))
	report, err := service.BusinessReport(context.Background(), acme.ID, 7)
	require.NoError(t, err)

	dataset := export.FromBusinessReport(report)

	csvOut, err := export.CSV(dataset)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(csvOut)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 8)

	csvViews := 0
	for _, record := range records[1:] {
		views, err := strconv.Atoi(record[1])
		require.NoError(t, err)
		csvViews += views
	}

	jsonOut, err := export.JSON(dataset, false)
	require.NoError(t, err)
	var doc export.Document
	require.NoError(t, json.Unmarshal(jsonOut, &doc))

	assert.Equal(t, 10, csvViews)
	assert.Equal(t, csvViews, doc.Summary.TotalViews)
	assert.Equal(t, report.Summary.TotalViews, doc.Summary.TotalViews)
	assert.Equal(t, "linkhub-analytics-acme-2023-12-30-to-2024-01-05.csv", dataset.Filename(export.FormatCSV))
}
