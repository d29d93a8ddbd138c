package emitter

import (
	"context"
	"encoding/json"
	"math"
	"net/url"
	"sync"
	"time"

	"linkhub/internal/config"
	"linkhub/internal/events"
)

// Default timings of the page instrumentation.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultScrollDebounce    = 100 * time.Millisecond
	DefaultGPSDelay          = 3 * time.Second
)

// NoDebounce evaluates scroll thresholds on every Scroll call.
const NoDebounce time.Duration = -1

// Page is one page load handed to Start.
type Page struct {
	URL       string
	Title     string
	Referrer  string
	UserAgent string
	UserID    string
}

// Fix is a resolved device location.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Locator is the device location capability. A nil Locator means none is available.
type Locator interface {
	Locate(ctx context.Context) (Fix, error)
}

// Options tune an Instrumentation. Zero values take the defaults.
type Options struct {
	HeartbeatInterval time.Duration
	// ScrollDebounce below zero (NoDebounce) evaluates thresholds on every Scroll call.
	ScrollDebounce  time.Duration
	GPSDelay        time.Duration
	CookieName      string
	SessionLifetime time.Duration
	Locator         Locator
	Now             func() time.Time
}

func (o *Options) withDefaults() {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ScrollDebounce == 0 {
		o.ScrollDebounce = DefaultScrollDebounce
	}
	if o.GPSDelay <= 0 {
		o.GPSDelay = DefaultGPSDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// DefaultOptions are the browser tracker's timings.
func DefaultOptions() Options {
	return Options{
		HeartbeatInterval: DefaultHeartbeatInterval,
		ScrollDebounce:    DefaultScrollDebounce,
		GPSDelay:          DefaultGPSDelay,
		CookieName:        DefaultCookieName,
		SessionLifetime:   DefaultSessionLifetime,
	}
}

// OptionsFromConfig is DefaultOptions with the configured session cookie.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.CookieName = cfg.SessionCookieName
	opts.SessionLifetime = cfg.SessionTimeout()
	return opts
}

// Instrumentation tracks one visitor's page views. Start begins a page,
// Teardown ends it; a new Start tears the previous page down first.
type Instrumentation struct {
	transport Transport
	sessions  *Sessions
	opts      Options

	mu   sync.Mutex
	page *pageState
	gen  uint64
}

type pageState struct {
	gen       uint64
	page      Page
	host      string
	pathname  string
	started   time.Time
	visible   bool
	fired     map[int]bool
	maxDepth  int
	scroll    float64
	debounce  *time.Timer
	gpsTimer  *time.Timer
	stopBeats chan struct{}
	beatsDone chan struct{}
}

func New(transport Transport, cookies CookieStore, opts Options) *Instrumentation {
	opts.withDefaults()
	return &Instrumentation{
		transport: transport,
		sessions:  NewSessions(cookies, opts.CookieName, opts.SessionLifetime),
		opts:      opts,
	}
}

// Start instruments a page load and emits its page_view. It returns false,
// emitting nothing, when the page is not trackable.
func (in *Instrumentation) Start(page Page) bool {
	in.Teardown()

	u, _ := url.Parse(page.URL)
	pathname := pathOf(page.URL)
	if !IsTrackable(pathname) {
		return false
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.gen++
	state := &pageState{
		gen:       in.gen,
		page:      page,
		pathname:  pathname,
		started:   in.opts.Now(),
		visible:   true,
		fired:     map[int]bool{},
		stopBeats: make(chan struct{}),
		beatsDone: make(chan struct{}),
	}
	if u != nil {
		state.host = u.Hostname()
	}
	in.page = state

	in.emitLocked(events.PageViewPayload{Title: page.Title})

	go in.heartbeats(state)

	if in.opts.Locator != nil && IsBusinessPage(pathname) {
		gen := state.gen
		state.gpsTimer = time.AfterFunc(in.opts.GPSDelay, func() { in.locate(gen) })
	}
	return true
}

func (in *Instrumentation) heartbeats(state *pageState) {
	defer close(state.beatsDone)
	ticker := time.NewTicker(in.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-state.stopBeats:
			return
		case <-ticker.C:
			in.mu.Lock()
			if in.page == state {
				in.emitLocked(events.HeartbeatPayload{
					TimeOnPage: in.timeOnPageLocked(),
					IsActive:   state.visible,
				})
			}
			in.mu.Unlock()
		}
	}
}

func (in *Instrumentation) locate(gen uint64) {
	in.mu.Lock()
	if in.page == nil || in.page.gen != gen {
		in.mu.Unlock()
		return
	}
	in.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fix, err := in.opts.Locator.Locate(ctx)

	in.mu.Lock()
	defer in.mu.Unlock()
	if in.page == nil || in.page.gen != gen {
		return
	}
	if err != nil {
		in.emitLocked(events.GPSDeniedPayload{Reason: err.Error()})
		return
	}
	in.emitLocked(events.GPSGrantedPayload{Latitude: fix.Latitude, Longitude: fix.Longitude, Accuracy: fix.Accuracy})
}

// Scroll records the current scroll position as a percentage of scrollable height.
func (in *Instrumentation) Scroll(percent float64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	state := in.page
	if state == nil {
		return
	}
	state.scroll = math.Max(0, math.Min(100, percent))

	if in.opts.ScrollDebounce < 0 {
		in.evaluateScrollLocked()
		return
	}
	if state.debounce != nil {
		state.debounce.Stop()
	}
	state.debounce = time.AfterFunc(in.opts.ScrollDebounce, func() {
		in.mu.Lock()
		defer in.mu.Unlock()
		if in.page == state {
			in.evaluateScrollLocked()
		}
	})
}

// evaluateScrollLocked fires every crossed threshold that has not fired yet, ascending.
func (in *Instrumentation) evaluateScrollLocked() {
	state := in.page
	for _, threshold := range events.ScrollThresholds {
		if state.scroll < float64(threshold) || state.fired[threshold] {
			continue
		}
		state.fired[threshold] = true
		state.maxDepth = threshold
		in.emitLocked(events.ScrollDepthPayload{Depth: threshold, ScrollPercent: math.Round(state.scroll)})
	}
}

// Click classifies and emits a click on the current page.
func (in *Instrumentation) Click(link Link) events.Kind {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.page == nil {
		return ""
	}
	kind := Classify(link, in.page.host)
	in.emitLocked(events.NewClickPayload(kind, link.Href, link.Text, link.Element))
	return kind
}

// SetVisible records page visibility, reported by heartbeats.
func (in *Instrumentation) SetVisible(visible bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.page != nil {
		in.page.visible = visible
	}
}

// Teardown emits page_exit and stops every timer of the current page. It is a no-op without one.
func (in *Instrumentation) Teardown() {
	in.mu.Lock()
	state := in.page
	if state == nil {
		in.mu.Unlock()
		return
	}
	if state.debounce != nil && state.debounce.Stop() {
		in.evaluateScrollLocked()
	}
	if state.gpsTimer != nil {
		state.gpsTimer.Stop()
	}
	in.emitLocked(events.PageExitPayload{
		TimeOnPage:     in.timeOnPageLocked(),
		MaxScrollDepth: state.maxDepth,
	})
	in.page = nil
	close(state.stopBeats)
	in.mu.Unlock()

	<-state.beatsDone
}

func (in *Instrumentation) timeOnPageLocked() float64 {
	elapsed := in.opts.Now().Sub(in.page.started).Seconds()
	return math.Round(math.Max(0, elapsed)*10) / 10
}

func (in *Instrumentation) emitLocked(payload events.Payload) {
	state := in.page
	now := in.opts.Now()
	metadata, err := events.EncodePayload(payload)
	if err != nil {
		return
	}
	req := events.TrackRequest{
		Event:     string(payload.Kind()),
		SessionID: in.sessions.Token(now),
		URL:       state.page.URL,
		Pathname:  state.pathname,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
		UserAgent: state.page.UserAgent,
		Metadata:  json.RawMessage(metadata),
	}
	if state.page.Referrer != "" {
		ref := state.page.Referrer
		req.Referrer = &ref
	}
	if state.page.UserID != "" {
		uid := state.page.UserID
		req.UserID = &uid
	}
	in.transport.Send(req)
}
