package rollups

import (
	"math"
	"sort"

	"linkhub/internal/businesses"
	"linkhub/internal/events"
	"linkhub/internal/models"
)

// TopListSize bounds the platform rankings.
const TopListSize = 10

type sessionStats struct {
	exitTotal    float64
	hasExit      bool
	maxHeartbeat float64
	hasHeartbeat bool
	maxScroll    int
	hasScroll    bool
}

// duration is the sum of page_exit times, or the largest heartbeat when the session never exited.
func (s *sessionStats) duration() (float64, bool) {
	if s.hasExit {
		return s.exitTotal, true
	}
	if s.hasHeartbeat {
		return s.maxHeartbeat, true
	}
	return 0, false
}

// Accumulator folds a stream of raw events into rollup metrics. Feed events with Add,
// in any order, then read Metrics.
type Accumulator struct {
	m             Metrics
	sessions      map[string]*sessionStats
	homepageViews int
	businessViews int
	slugViews     map[string]int
	slugOrder     []string
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		m: Metrics{
			DeviceBreakdown:  models.Breakdown{},
			RegionBreakdown:  models.Breakdown{},
			BrowserBreakdown: models.Breakdown{},
			CountryBreakdown: models.Breakdown{},
			TopHours:         models.Breakdown{},
		},
		sessions:  make(map[string]*sessionStats),
		slugViews: make(map[string]int),
	}
}

func (a *Accumulator) session(id string) *sessionStats {
	s, ok := a.sessions[id]
	if !ok {
		s = &sessionStats{}
		a.sessions[id] = s
	}
	return s
}

// Add folds one event.
func (a *Accumulator) Add(e events.RawEvent) {
	s := a.session(e.SessionID)

	switch e.Event {
	case events.KindPageView:
		a.m.Views++
		if e.Pathname == "/" {
			a.homepageViews++
		}
		if e.BusinessSlug != "" {
			a.businessViews++
			if _, seen := a.slugViews[e.BusinessSlug]; !seen {
				a.slugOrder = append(a.slugOrder, e.BusinessSlug)
			}
			a.slugViews[e.BusinessSlug]++
		}
	case events.KindBusinessCall:
		a.m.Calls++
	case events.KindBusinessEmail:
		a.m.Emails++
	case events.KindBusinessWhatsApp:
		a.m.Whatsapp++
	case events.KindBusinessWebsiteClick:
		a.m.WebsiteClicks++
	case events.KindHeartbeat:
		if seconds, ok := e.TimeOnPage(); ok {
			if !s.hasHeartbeat || seconds > s.maxHeartbeat {
				s.maxHeartbeat = seconds
			}
			s.hasHeartbeat = true
		}
	case events.KindPageExit:
		if seconds, ok := e.TimeOnPage(); ok {
			s.exitTotal += seconds
			s.hasExit = true
		}
	case events.KindScrollDepth:
		if depth, ok := e.ScrollDepth(); ok {
			if !s.hasScroll || depth > s.maxScroll {
				s.maxScroll = depth
			}
			s.hasScroll = true
		}
	}

	a.m.DeviceBreakdown.Inc(e.DeviceType, 1)
	a.m.RegionBreakdown.Inc(e.Region, 1)
	a.m.BrowserBreakdown.Inc(e.Browser, 1)
	a.m.CountryBreakdown.Inc(e.Country, 1)
	a.m.TopHours.Inc(e.Hour(), 1)
}

// AddAll folds a batch of events.
func (a *Accumulator) AddAll(batch []events.RawEvent) {
	for _, e := range batch {
		a.Add(e)
	}
}

// Metrics finalizes session-derived values and returns the result.
func (a *Accumulator) Metrics() Metrics {
	m := a.m
	m.UniqueVisitors = len(a.sessions)

	var total float64
	timed := 0
	scrollSum := 0
	scrolled := 0
	for _, s := range a.sessions {
		if d, ok := s.duration(); ok {
			total += d
			timed++
		}
		if s.hasScroll {
			scrollSum += s.maxScroll
			scrolled++
		}
	}

	m.TotalTimeOnPage = int(math.Round(total))
	m.TimedSessions = timed
	if timed > 0 {
		m.AvgTimeOnPage = round2(total / float64(timed))
	}
	if scrolled > 0 {
		m.ScrollDepthAvg = round2(float64(scrollSum) / float64(scrolled))
	}
	return m
}

// FunnelCounts returns homepage views, business page views and contact actions.
func (a *Accumulator) FunnelCounts() (homepage, business, contact int) {
	return a.homepageViews, a.businessViews, a.m.ContactActions()
}

// TopBusinesses ranks known businesses by page views, ties broken by first appearance.
// Slugs absent from catalog are skipped.
func (a *Accumulator) TopBusinesses(catalog map[string]businesses.Business, limit int) []TopBusiness {
	ranked := make([]TopBusiness, 0, len(a.slugOrder))
	for _, slug := range a.slugOrder {
		b, ok := catalog[slug]
		if !ok {
			continue
		}
		ranked = append(ranked, TopBusiness{BusinessID: b.ID, Slug: b.Slug, Name: b.Name, Views: a.slugViews[slug]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Views > ranked[j].Views })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// TopCategories sums page views of known businesses per category, ties broken by first appearance.
func (a *Accumulator) TopCategories(catalog map[string]businesses.Business, limit int) []TopCategory {
	views := make(map[string]int)
	var order []string
	for _, slug := range a.slugOrder {
		b, ok := catalog[slug]
		if !ok {
			continue
		}
		name := b.CategoryName()
		if _, seen := views[name]; !seen {
			order = append(order, name)
		}
		views[name] += a.slugViews[slug]
	}
	ranked := make([]TopCategory, 0, len(order))
	for _, name := range order {
		ranked = append(ranked, TopCategory{CategoryName: name, Views: views[name]})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Views > ranked[j].Views })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Slugs lists the business slugs that received page views, in first-appearance order.
func (a *Accumulator) Slugs() []string {
	return append([]string(nil), a.slugOrder...)
}

// ComputeMetrics is a convenience wrapper over Accumulator for an in-memory slice.
func ComputeMetrics(evts []events.RawEvent) Metrics {
	acc := NewAccumulator()
	acc.AddAll(evts)
	return acc.Metrics()
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
