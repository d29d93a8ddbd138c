package reporting

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"time"

	"github.com/karloscodes/cartridge"
	"gorm.io/gorm"

	"linkhub/internal/businesses"
	"linkhub/internal/config"
	"linkhub/internal/events"
	"linkhub/internal/models"
	"linkhub/internal/pkg/async"
	"linkhub/internal/pkg/referrers"
	"linkhub/internal/rollups"
	"linkhub/internal/timeframe"
)

// Service answers business and platform analytics queries from stored rollups,
// falling back to raw events for days that have none.
type Service struct {
	dbManager           cartridge.DBManager
	logger              *slog.Logger
	aggregator          *rollups.Aggregator
	pool                *async.Pool
	clock               timeframe.TimeProvider
	activeWindow        time.Duration
	defaultDays         int
	businessRecentLimit int
	platformRecentLimit int
}

type Option func(*Service)

func WithClock(c timeframe.TimeProvider) Option { return func(s *Service) { s.clock = c } }
func WithActiveWindow(d time.Duration) Option   { return func(s *Service) { s.activeWindow = d } }
func WithDefaultDays(n int) Option              { return func(s *Service) { s.defaultDays = n } }
func WithWorkers(n int) Option                  { return func(s *Service) { s.pool = async.NewPool(n) } }

// WithRecentLimits caps the recent events of business and platform reports.
// Non-positive values keep the current limit.
func WithRecentLimits(business, platform int) Option {
	return func(s *Service) {
		if business > 0 {
			s.businessRecentLimit = business
		}
		if platform > 0 {
			s.platformRecentLimit = platform
		}
	}
}

// FromConfig applies the report settings of cfg.
func FromConfig(cfg *config.Config) Option {
	return func(s *Service) {
		WithActiveWindow(cfg.ActiveWindow())(s)
		WithDefaultDays(cfg.DefaultReportDays)(s)
		WithRecentLimits(cfg.BusinessRecentEventsLimit, cfg.PlatformRecentEventsLimit)(s)
	}
}

func NewService(dbManager cartridge.DBManager, logger *slog.Logger, aggregator *rollups.Aggregator, opts ...Option) *Service {
	s := &Service{
		dbManager:           dbManager,
		logger:              logger,
		aggregator:          aggregator,
		pool:                async.NewPool(6),
		clock:               timeframe.DefaultTimeProvider{},
		activeWindow:        30 * time.Minute,
		defaultDays:         timeframe.DefaultDays,
		businessRecentLimit: config.DefaultBusinessRecentEventsLimit,
		platformRecentLimit: config.DefaultPlatformRecentEventsLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.dbManager.GetConnection().WithContext(ctx)
}

// Range resolves days (clamped) to the report window ending today.
func (s *Service) Range(days int) timeframe.DayRange {
	return timeframe.LastNDays(s.clock.Now(), timeframe.ClampDays(days, s.defaultDays))
}

type dayResult struct {
	date       string
	source     string
	metrics    rollups.Metrics
	platform   *rollups.PlatformRollup
	computedAt time.Time
}

// BusinessReport builds the analytics of one business over the last days days.
func (s *Service) BusinessReport(ctx context.Context, businessID uint, days int) (*BusinessReport, error) {
	business, err := businesses.GetBusinessByID(s.db(ctx), businessID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	r := s.Range(days)
	scope := events.ForBusiness(business.Slug)

	tasks := []async.Task{
		{
			Name: "days",
			Execute: func() (interface{}, error) {
				return s.businessDays(ctx, *business, r)
			},
		},
		{
			Name: "recentEvents",
			Execute: func() (interface{}, error) {
				return events.Recent(s.db(ctx), scope, r.Start(), r.End(), s.businessRecentLimit)
			},
		},
		{
			Name: "activeSessions",
			Execute: func() (interface{}, error) {
				return events.ActiveSessions(s.db(ctx), scope, now.Add(-s.activeWindow))
			},
		},
		{
			Name: "topReferrers",
			Execute: func() (interface{}, error) {
				return s.topReferrers(ctx, scope, r)
			},
		},
	}
	results := s.pool.Execute(ctx, tasks)
	if err := firstError(results, tasks); err != nil {
		s.logger.Error("Failed to build business report",
			slog.String("business", business.Slug), slog.Any("error", err))
		return nil, err
	}

	dayResults := results["days"].Data.([]dayResult)
	totals := sumMetrics(dayResults)

	daily := make([]DailyPoint, len(dayResults))
	for i, d := range dayResults {
		daily[i] = dailyPoint(d.date, d.metrics, d.source)
	}

	report := &BusinessReport{
		Business:        businessInfo(business),
		Range:           newRange(r),
		Summary:         summarize(totals, results["activeSessions"].Data.(int64)),
		Actions:         actionsOf(totals),
		DeviceBreakdown: totals.DeviceBreakdown,
		RegionBreakdown: totals.RegionBreakdown,
		PeakHours:       peakHours(totals.TopHours),
		DailyData:       daily,
		Analytics: BusinessAnalytics{
			BrowserBreakdown: totals.BrowserBreakdown,
			CountryBreakdown: countryLabels(totals.CountryBreakdown),
			TopReferrers:     results["topReferrers"].Data.([]models.Entry),
		},
		RecentEvents: nonNilEvents(results["recentEvents"].Data.([]events.RawEvent)),
		Totals:       totals,
	}
	return report, nil
}

// PlatformReport builds the platform-wide analytics over the last days days.
func (s *Service) PlatformReport(ctx context.Context, days int) (*PlatformReport, error) {
	now := s.clock.Now()
	r := s.Range(days)

	tasks := []async.Task{
		{
			Name: "days",
			Execute: func() (interface{}, error) {
				return s.platformDays(ctx, r)
			},
		},
		{
			Name: "recentEvents",
			Execute: func() (interface{}, error) {
				return events.Recent(s.db(ctx), events.PlatformScope, r.Start(), r.End(), s.platformRecentLimit)
			},
		},
		{
			Name: "activeSessions",
			Execute: func() (interface{}, error) {
				return events.ActiveSessions(s.db(ctx), events.PlatformScope, now.Add(-s.activeWindow))
			},
		},
	}
	results := s.pool.Execute(ctx, tasks)
	if err := firstError(results, tasks); err != nil {
		s.logger.Error("Failed to build platform report", slog.Any("error", err))
		return nil, err
	}

	dayResults := results["days"].Data.([]dayResult)
	totals := sumMetrics(dayResults)

	var homepage, businessViews, contact int
	daily := make([]PlatformDailyPoint, len(dayResults))
	for i, d := range dayResults {
		point := PlatformDailyPoint{DailyPoint: dailyPoint(d.date, d.metrics, d.source)}
		if d.platform != nil {
			point.HomepageViews = d.platform.HomepageViews
			point.BusinessViews = d.platform.BusinessViews
			homepage += d.platform.HomepageViews
			businessViews += d.platform.BusinessViews
			contact += d.platform.ContactActions
		}
		daily[i] = point
	}

	return &PlatformReport{
		Range:            newRange(r),
		Summary:          summarize(totals, results["activeSessions"].Data.(int64)),
		TopBusinesses:    mergeTopBusinesses(dayResults, rollups.TopListSize),
		TopCategories:    mergeTopCategories(dayResults, rollups.TopListSize),
		DeviceBreakdown:  totals.DeviceBreakdown,
		BrowserBreakdown: totals.BrowserBreakdown,
		RegionBreakdown:  totals.RegionBreakdown,
		CountryBreakdown: countryLabels(totals.CountryBreakdown),
		PeakHours:        peakHours(totals.TopHours),
		Funnel:           BuildFunnel(homepage, businessViews, contact),
		DailyData:        daily,
		RecentEvents:     nonNilEvents(results["recentEvents"].Data.([]events.RawEvent)),
		Totals:           totals,
	}, nil
}

func (s *Service) businessDays(ctx context.Context, business businesses.Business, r timeframe.DayRange) ([]dayResult, error) {
	var stored []rollups.BusinessRollup
	err := s.db(ctx).
		Where("business_id = ? AND date >= ? AND date <= ?", business.ID, r.FirstKey(), r.LastKey()).
		Find(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load business rollups: %w", err)
	}
	byDate := make(map[string]rollups.BusinessRollup, len(stored))
	for _, row := range stored {
		byDate[row.Date] = row
	}

	return s.resolveDays(ctx, events.ForBusiness(business.Slug), r,
		func(date string) (dayResult, bool) {
			row, ok := byDate[date]
			return dayResult{date: date, source: SourceStored, metrics: row.Metrics, computedAt: row.ComputedAt}, ok
		},
		func(day time.Time) (dayResult, error) {
			rollup, err := s.aggregator.ComputeBusinessDay(ctx, business, day)
			if err != nil {
				return dayResult{}, err
			}
			return dayResult{date: rollup.Date, source: SourceLive, metrics: rollup.Metrics}, nil
		})
}

func (s *Service) platformDays(ctx context.Context, r timeframe.DayRange) ([]dayResult, error) {
	var stored []rollups.PlatformRollup
	err := s.db(ctx).
		Where("date >= ? AND date <= ?", r.FirstKey(), r.LastKey()).
		Find(&stored).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load platform rollups: %w", err)
	}
	byDate := make(map[string]*rollups.PlatformRollup, len(stored))
	for i := range stored {
		byDate[stored[i].Date] = &stored[i]
	}

	return s.resolveDays(ctx, events.PlatformScope, r,
		func(date string) (dayResult, bool) {
			row, ok := byDate[date]
			if !ok {
				return dayResult{}, false
			}
			return dayResult{date: date, source: SourceStored, metrics: row.Metrics, platform: row, computedAt: row.ComputedAt}, true
		},
		func(day time.Time) (dayResult, error) {
			rollup, err := s.aggregator.ComputePlatformDay(ctx, day)
			if err != nil {
				return dayResult{}, err
			}
			return dayResult{date: rollup.Date, source: SourceLive, metrics: rollup.Metrics, platform: rollup}, nil
		})
}

// resolveDays returns one result per day of r. A stored rollup is used unless an
// event for its day was stored after the rollup was computed, in which case the day
// is recomputed live. Empty breakdowns of a stored day are rebuilt from raw events
// whenever the day has any. Days without a rollup are computed from raw events and
// are not persisted.
func (s *Service) resolveDays(
	ctx context.Context,
	scope events.Scope,
	r timeframe.DayRange,
	lookup func(date string) (dayResult, bool),
	compute func(day time.Time) (dayResult, error),
) ([]dayResult, error) {
	db := s.db(ctx)
	hasRaw, err := events.CountInRange(db, scope, r.Start(), r.End())
	if err != nil {
		return nil, err
	}

	days := r.Days()
	out := make([]dayResult, len(days))
	var tasks []async.Task
	for i, day := range days {
		i, day := i, day
		date := timeframe.DateKey(day)
		stored, ok := lookup(date)
		if ok {
			out[i] = stored
		} else {
			out[i] = emptyDay(date)
		}
		if hasRaw == 0 {
			continue
		}
		tasks = append(tasks, async.Task{
			Name: date,
			Execute: func() (interface{}, error) {
				if !ok {
					live, err := compute(day)
					if err != nil {
						return nil, err
					}
					out[i] = live
					return nil, nil
				}
				return nil, s.refreshStored(db, scope, day, &out[i], compute)
			},
		})
	}

	if len(tasks) > 0 {
		results := s.pool.Execute(ctx, tasks)
		if err := firstError(results, tasks); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// refreshStored replaces a stale stored day with a live computation, or fills its
// missing breakdowns when the day has raw events.
func (s *Service) refreshStored(db *gorm.DB, scope events.Scope, day time.Time, stored *dayResult, compute func(time.Time) (dayResult, error)) error {
	from := timeframe.StartOfDay(day)
	to := from.AddDate(0, 0, 1)

	since := stored.computedAt
	if since.Before(from) {
		since = from.Add(-time.Nanosecond)
	}
	stale, err := events.ExistsAfter(db, scope, since, to)
	if err != nil {
		return err
	}
	if stale {
		live, err := compute(day)
		if err != nil {
			return err
		}
		*stored = live
		return nil
	}

	if !stored.metrics.BreakdownsEmpty() {
		return nil
	}
	present, err := events.CountInRange(db, scope, from, to)
	if err != nil || present == 0 {
		return err
	}
	live, err := compute(day)
	if err != nil {
		return err
	}
	fillBreakdowns(&stored.metrics, live.metrics)
	return nil
}

func (s *Service) topReferrers(ctx context.Context, scope events.Scope, r timeframe.DayRange) ([]models.Entry, error) {
	counts := models.Breakdown{}
	err := events.StreamRange(s.db(ctx), scope, r.Start(), r.End(), events.DefaultBatchSize, func(batch []events.RawEvent) error {
		for _, e := range batch {
			if e.Event != events.KindPageView {
				continue
			}
			ref := ""
			if e.Referrer != nil {
				ref = *e.Referrer
			}
			counts.Inc(referrers.Source(ref, hostOf(e.URL)), 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	entries := counts.Sorted()
	if len(entries) > rollups.TopListSize {
		entries = entries[:rollups.TopListSize]
	}
	return entries, nil
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func emptyDay(date string) dayResult {
	return dayResult{date: date, metrics: emptyMetrics()}
}

func emptyMetrics() rollups.Metrics {
	return rollups.Metrics{
		DeviceBreakdown:  models.Breakdown{},
		RegionBreakdown:  models.Breakdown{},
		BrowserBreakdown: models.Breakdown{},
		CountryBreakdown: models.Breakdown{},
		TopHours:         models.Breakdown{},
	}
}

func fillBreakdowns(m *rollups.Metrics, live rollups.Metrics) {
	if len(m.DeviceBreakdown) == 0 {
		m.DeviceBreakdown = live.DeviceBreakdown
	}
	if len(m.RegionBreakdown) == 0 {
		m.RegionBreakdown = live.RegionBreakdown
	}
	if len(m.BrowserBreakdown) == 0 {
		m.BrowserBreakdown = live.BrowserBreakdown
	}
	if len(m.CountryBreakdown) == 0 {
		m.CountryBreakdown = live.CountryBreakdown
	}
	if len(m.TopHours) == 0 {
		m.TopHours = live.TopHours
	}
}

// sumMetrics adds up the days. The average time on page is weighted by the
// sessions that reported a duration; rows without that count have it
// approximated from their daily average.
func sumMetrics(days []dayResult) rollups.Metrics {
	total := emptyMetrics()
	scrollSum, scrollDays := 0.0, 0
	for _, d := range days {
		m := d.metrics
		total.Views += m.Views
		total.UniqueVisitors += m.UniqueVisitors
		total.Calls += m.Calls
		total.Emails += m.Emails
		total.Whatsapp += m.Whatsapp
		total.WebsiteClicks += m.WebsiteClicks
		total.TotalTimeOnPage += m.TotalTimeOnPage

		timed := m.TimedSessions
		if timed == 0 && m.AvgTimeOnPage > 0 {
			timed = int(math.Round(float64(m.TotalTimeOnPage) / m.AvgTimeOnPage))
		}
		total.TimedSessions += timed

		if m.ScrollDepthAvg > 0 {
			scrollSum += m.ScrollDepthAvg
			scrollDays++
		}

		total.DeviceBreakdown.Merge(m.DeviceBreakdown)
		total.RegionBreakdown.Merge(m.RegionBreakdown)
		total.BrowserBreakdown.Merge(m.BrowserBreakdown)
		total.CountryBreakdown.Merge(m.CountryBreakdown)
		total.TopHours.Merge(m.TopHours)
	}
	if total.TimedSessions > 0 {
		total.AvgTimeOnPage = round2(float64(total.TotalTimeOnPage) / float64(total.TimedSessions))
	}
	if scrollDays > 0 {
		total.ScrollDepthAvg = round2(scrollSum / float64(scrollDays))
	}
	return total
}

func summarize(totals rollups.Metrics, active int64) Summary {
	return Summary{
		TotalViews:          totals.Views,
		UniqueVisitors:      totals.UniqueVisitors,
		TotalContactActions: totals.ContactActions(),
		TotalTimeOnPage:     totals.TotalTimeOnPage,
		AvgTimeOnPage:       totals.AvgTimeOnPage,
		ScrollDepthAvg:      totals.ScrollDepthAvg,
		ConversionRate:      Percentage(totals.ContactActions(), totals.Views),
		ActiveSessions:      active,
	}
}

func mergeTopBusinesses(days []dayResult, limit int) []rollups.TopBusiness {
	var order []uint
	byID := map[uint]*rollups.TopBusiness{}
	for _, d := range days {
		if d.platform == nil {
			continue
		}
		for _, entry := range d.platform.TopBusinesses {
			current, ok := byID[entry.BusinessID]
			if !ok {
				copied := entry
				copied.Views = 0
				byID[entry.BusinessID] = &copied
				current = &copied
				order = append(order, entry.BusinessID)
			}
			current.Views += entry.Views
			current.Name = entry.Name
			current.Slug = entry.Slug
		}
	}

	out := make([]rollups.TopBusiness, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Views > out[j].Views })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func mergeTopCategories(days []dayResult, limit int) []rollups.TopCategory {
	var order []string
	views := map[string]int{}
	for _, d := range days {
		if d.platform == nil {
			continue
		}
		for _, entry := range d.platform.TopCategories {
			if _, ok := views[entry.CategoryName]; !ok {
				order = append(order, entry.CategoryName)
			}
			views[entry.CategoryName] += entry.Views
		}
	}

	out := make([]rollups.TopCategory, 0, len(order))
	for _, name := range order {
		out = append(out, rollups.TopCategory{CategoryName: name, Views: views[name]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Views > out[j].Views })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func firstError(results map[string]async.Result, tasks []async.Task) error {
	for _, task := range tasks {
		if res := results[task.Name]; res.Err != nil {
			return fmt.Errorf("%s: %w", task.Name, res.Err)
		}
	}
	return nil
}

func nonNilEvents(evts []events.RawEvent) []events.RawEvent {
	if evts == nil {
		return []events.RawEvent{}
	}
	return evts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
