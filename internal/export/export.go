package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"

	"linkhub/internal/events"
	"linkhub/internal/models"
	"linkhub/internal/reporting"
	"linkhub/internal/rollups"
)

const PlatformScope = "platform"

// Formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// Columns is the fixed column order of the daily table.
var Columns = []string{
	"date",
	"views",
	"unique_visitors",
	"calls",
	"emails",
	"whatsapp",
	"website_clicks",
	"total_time_on_page",
	"avg_time_on_page",
	"scroll_depth_avg",
}

// Dataset is a report flattened for export.
type Dataset struct {
	Scope   string
	Range   reporting.Range
	Summary reporting.Summary
	Daily   []reporting.DailyPoint
	Totals  rollups.Metrics
	Events  []events.RawEvent
}

func FromBusinessReport(r *reporting.BusinessReport) Dataset {
	return Dataset{
		Scope:   r.Business.Slug,
		Range:   r.Range,
		Summary: r.Summary,
		Daily:   r.DailyData,
		Totals:  r.Totals,
		Events:  r.RecentEvents,
	}
}

func FromPlatformReport(r *reporting.PlatformReport) Dataset {
	daily := make([]reporting.DailyPoint, len(r.DailyData))
	for i, p := range r.DailyData {
		daily[i] = p.DailyPoint
	}
	return Dataset{
		Scope:   PlatformScope,
		Range:   r.Range,
		Summary: r.Summary,
		Daily:   daily,
		Totals:  r.Totals,
		Events:  r.RecentEvents,
	}
}

// Filename is linkhub-analytics-<scope>-<from>-to-<to>.<ext>.
func Filename(scope string, r reporting.Range, ext string) string {
	if scope == "" {
		scope = PlatformScope
	}
	return fmt.Sprintf("linkhub-analytics-%s-%s-to-%s.%s", scope, r.From, r.To, ext)
}

func (d Dataset) Filename(ext string) string {
	return Filename(d.Scope, d.Range, ext)
}

func row(p reporting.DailyPoint) []string {
	return []string{
		p.Date,
		strconv.Itoa(p.PageViews),
		strconv.Itoa(p.Visitors),
		strconv.Itoa(p.Calls),
		strconv.Itoa(p.Emails),
		strconv.Itoa(p.Whatsapp),
		strconv.Itoa(p.WebsiteClicks),
		strconv.Itoa(p.TotalTimeOnPage),
		strconv.FormatFloat(p.AvgTimeOnPage, 'f', -1, 64),
		strconv.FormatFloat(p.ScrollDepthAvg, 'f', -1, 64),
	}
}

// CSV renders one row per day under the fixed header.
func CSV(d Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Columns); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range d.Daily {
		if err := w.Write(row(p)); err != nil {
			return nil, fmt.Errorf("failed to write csv row %s: %w", p.Date, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type Breakdowns struct {
	Device  models.Breakdown `json:"device"`
	Region  models.Breakdown `json:"region"`
	Browser models.Breakdown `json:"browser"`
	Country models.Breakdown `json:"country"`
	Hours   models.Breakdown `json:"hours"`
}

type Document struct {
	Scope      string                 `json:"scope"`
	Range      reporting.Range        `json:"range"`
	Summary    reporting.Summary      `json:"summary"`
	Breakdowns Breakdowns             `json:"breakdowns"`
	DailyData  []reporting.DailyPoint `json:"dailyData"`
	Events     []events.RawEvent      `json:"events,omitempty"`
}

// Document builds the structured export. Raw events are only attached when includeEvents is set.
func (d Dataset) Document(includeEvents bool) Document {
	doc := Document{
		Scope:   d.Scope,
		Range:   d.Range,
		Summary: d.Summary,
		Breakdowns: Breakdowns{
			Device:  nonNil(d.Totals.DeviceBreakdown),
			Region:  nonNil(d.Totals.RegionBreakdown),
			Browser: nonNil(d.Totals.BrowserBreakdown),
			Country: nonNil(d.Totals.CountryBreakdown),
			Hours:   nonNil(d.Totals.TopHours),
		},
		DailyData: d.Daily,
	}
	if doc.DailyData == nil {
		doc.DailyData = []reporting.DailyPoint{}
	}
	if includeEvents {
		doc.Events = d.Events
		if doc.Events == nil {
			doc.Events = []events.RawEvent{}
		}
	}
	return doc
}

func JSON(d Dataset, includeEvents bool) ([]byte, error) {
	out, err := json.MarshalIndent(d.Document(includeEvents), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode json export: %w", err)
	}
	return out, nil
}

func nonNil(b models.Breakdown) models.Breakdown {
	if b == nil {
		return models.Breakdown{}
	}
	return b
}
