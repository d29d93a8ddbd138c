package reporting

import (
	"sort"

	"linkhub/internal/businesses"
	"linkhub/internal/events"
	"linkhub/internal/models"
	"linkhub/internal/rollups"
	"linkhub/internal/timeframe"
)

// Day sources.
const (
	SourceStored = "stored"
	SourceLive   = "live"
)

// Range is the inclusive date window of a report.
type Range struct {
	From string `json:"from"`
	To   string `json:"to"`
	Days int    `json:"days"`
}

func newRange(r timeframe.DayRange) Range {
	return Range{From: r.FirstKey(), To: r.LastKey(), Days: r.Len()}
}

type Summary struct {
	TotalViews          int     `json:"totalViews"`
	UniqueVisitors      int     `json:"uniqueVisitors"`
	TotalContactActions int     `json:"totalContactActions"`
	TotalTimeOnPage     int     `json:"totalTimeOnPage"`
	AvgTimeOnPage       float64 `json:"avgTimeOnPage"`
	ScrollDepthAvg      float64 `json:"scrollDepthAvg"`
	ConversionRate      float64 `json:"conversionRate"`
	ActiveSessions      int64   `json:"activeSessions"`
}

type Actions struct {
	Calls         int `json:"calls"`
	Emails        int `json:"emails"`
	Whatsapp      int `json:"whatsapp"`
	WebsiteClicks int `json:"websiteClicks"`
	Total         int `json:"total"`
}

// DailyPoint is one zero-filled day of a report series.
type DailyPoint struct {
	Date            string  `json:"date"`
	PageViews       int     `json:"pageViews"`
	Visitors        int     `json:"visitors"`
	Calls           int     `json:"calls"`
	Emails          int     `json:"emails"`
	Whatsapp        int     `json:"whatsapp"`
	WebsiteClicks   int     `json:"websiteClicks"`
	ContactActions  int     `json:"contactActions"`
	TotalTimeOnPage int     `json:"totalTimeOnPage"`
	AvgTimeOnPage   float64 `json:"avgTimeOnPage"`
	ScrollDepthAvg  float64 `json:"scrollDepthAvg"`
	Source          string  `json:"source,omitempty"`
}

type PlatformDailyPoint struct {
	DailyPoint
	HomepageViews int `json:"homepageViews"`
	BusinessViews int `json:"businessViews"`
}

type HourCount struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// FunnelStage is one step of the homepage → business page → contact funnel.
// Percentage is relative to the previous stage; the first stage is always 100
// when it has any count.
type FunnelStage struct {
	Stage      string  `json:"stage"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// BusinessAnalytics holds the secondary breakdowns of a business report.
type BusinessAnalytics struct {
	BrowserBreakdown models.Breakdown `json:"browserBreakdown"`
	CountryBreakdown models.Breakdown `json:"countryBreakdown"`
	TopReferrers     []models.Entry   `json:"topReferrers"`
}

type BusinessInfo struct {
	ID       uint   `json:"id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

type BusinessReport struct {
	Business        BusinessInfo      `json:"business"`
	Range           Range             `json:"range"`
	Summary         Summary           `json:"summary"`
	Actions         Actions           `json:"actions"`
	DeviceBreakdown models.Breakdown  `json:"deviceBreakdown"`
	RegionBreakdown models.Breakdown  `json:"regionBreakdown"`
	PeakHours       []HourCount       `json:"peakHours"`
	DailyData       []DailyPoint      `json:"dailyData"`
	Analytics       BusinessAnalytics `json:"analytics"`
	RecentEvents    []events.RawEvent `json:"recentEvents"`

	// Totals keeps the summed metrics (including breakdowns keyed by raw values) for exports.
	Totals rollups.Metrics `json:"-"`
}

type PlatformReport struct {
	Range            Range                 `json:"range"`
	Summary          Summary               `json:"summary"`
	TopBusinesses    []rollups.TopBusiness `json:"topBusinesses"`
	TopCategories    []rollups.TopCategory `json:"topCategories"`
	DeviceBreakdown  models.Breakdown      `json:"deviceBreakdown"`
	BrowserBreakdown models.Breakdown      `json:"browserBreakdown"`
	RegionBreakdown  models.Breakdown      `json:"regionBreakdown"`
	CountryBreakdown models.Breakdown      `json:"countryBreakdown"`
	PeakHours        []HourCount           `json:"peakHours"`
	Funnel           []FunnelStage         `json:"funnel"`
	DailyData        []PlatformDailyPoint  `json:"dailyData"`
	RecentEvents     []events.RawEvent     `json:"recentEvents,omitempty"`

	Totals rollups.Metrics `json:"-"`
}

func businessInfo(b *businesses.Business) BusinessInfo {
	return BusinessInfo{ID: b.ID, Slug: b.Slug, Name: b.Name, Category: b.CategoryName()}
}

func dailyPoint(date string, m rollups.Metrics, source string) DailyPoint {
	return DailyPoint{
		Date:            date,
		PageViews:       m.Views,
		Visitors:        m.UniqueVisitors,
		Calls:           m.Calls,
		Emails:          m.Emails,
		Whatsapp:        m.Whatsapp,
		WebsiteClicks:   m.WebsiteClicks,
		ContactActions:  m.ContactActions(),
		TotalTimeOnPage: m.TotalTimeOnPage,
		AvgTimeOnPage:   m.AvgTimeOnPage,
		ScrollDepthAvg:  m.ScrollDepthAvg,
		Source:          source,
	}
}

// peakHours lists every hour with activity, busiest first, ties by hour.
func peakHours(b models.Breakdown) []HourCount {
	out := make([]HourCount, 0, len(b))
	for hour, count := range b {
		if count > 0 {
			out = append(out, HourCount{Hour: hour, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Hour < out[j].Hour
	})
	return out
}

func actionsOf(m rollups.Metrics) Actions {
	return Actions{
		Calls:         m.Calls,
		Emails:        m.Emails,
		Whatsapp:      m.Whatsapp,
		WebsiteClicks: m.WebsiteClicks,
		Total:         m.ContactActions(),
	}
}
