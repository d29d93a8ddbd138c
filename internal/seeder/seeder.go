package seeder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/karloscodes/cartridge"

	"linkhub/internal/businesses"
	"linkhub/internal/emitter"
	"linkhub/internal/events"
)

// DefaultBusinesses is the directory seeded when none exist yet.
var DefaultBusinesses = []struct {
	Slug, Name, Category string
}{
	{"acme-plumbing", "Acme Plumbing", "Trades"},
	{"zen-yoga", "Zen Yoga Studio", "Wellness"},
	{"corner-deli", "Corner Deli", "Food & Drink"},
	{"bright-dental", "Bright Dental", "Health"},
	{"pixel-print", "Pixel Print Shop", "Services"},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPad; CPU OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

var referrers = []string{
	"",
	"https://www.google.com/",
	"https://www.facebook.com/",
	"https://www.instagram.com/",
	"https://maps.google.com/",
	"https://wa.me/",
}

var contactKinds = []events.Kind{
	events.KindBusinessCall,
	events.KindBusinessEmail,
	events.KindBusinessWhatsApp,
	events.KindBusinessWebsiteClick,
}

var contactHrefs = map[events.Kind]string{
	events.KindBusinessCall:         "tel:+15550100",
	events.KindBusinessEmail:        "mailto:hello@example.com",
	events.KindBusinessWhatsApp:     "https://wa.me/15550100",
	events.KindBusinessWebsiteClick: "https://example.com",
}

// Seeder generates directory traffic through the regular ingestion path.
type Seeder struct {
	DBManager cartridge.DBManager
	Logger    *slog.Logger
	Sessions  int
	Days      int
	rng       *rand.Rand
}

// NewSeeder creates a new seeder instance
func NewSeeder(dbManager cartridge.DBManager, logger *slog.Logger, sessions, days int) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	if days < 1 {
		days = 1
	}
	return &Seeder{
		DBManager: dbManager,
		Logger:    logger,
		Sessions:  sessions,
		Days:      days,
		rng:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 42)),
	}
}

// Run ensures the default businesses exist and then replays Sessions visits spread over the last Days days.
// It returns the number of stored events.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	start := time.Now()
	catalog, err := s.seedBusinesses()
	if err != nil {
		return 0, err
	}

	stored := 0
	for i := 0; i < s.Sessions; i++ {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		stored += s.visit(catalog, start)
	}

	s.Logger.Info("Seeding completed",
		slog.Int("sessions", s.Sessions),
		slog.Int("events", stored),
		slog.Duration("elapsed", time.Since(start)))
	return stored, nil
}

func (s *Seeder) seedBusinesses() ([]businesses.Business, error) {
	db := s.DBManager.GetConnection()
	existing, err := businesses.GetAllBusinesses(db)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing, nil
	}

	for _, def := range DefaultBusinesses {
		category, err := businesses.FindOrCreateCategory(db, def.Category)
		if err != nil {
			return nil, err
		}
		b := &businesses.Business{Slug: def.Slug, Name: def.Name, CategoryID: &category.ID}
		if err := businesses.CreateBusiness(db, b); err != nil {
			return nil, fmt.Errorf("failed to seed business %s: %w", def.Slug, err)
		}
		s.Logger.Info("Seeded business", slog.String("slug", def.Slug))
	}
	return businesses.GetAllBusinesses(db)
}

// visit replays one session: homepage, usually a business page, sometimes a contact action.
func (s *Seeder) visit(catalog []businesses.Business, now time.Time) int {
	at := now.Add(-time.Duration(s.rng.IntN(s.Days*24*60*60)) * time.Second)
	session := emitter.NewToken(at)
	ua := userAgents[s.rng.IntN(len(userAgents))]
	ip := fmt.Sprintf("81.2.69.%d", 1+s.rng.IntN(250))
	referrer := referrers[s.rng.IntN(len(referrers))]

	stored := 0
	emit := func(kind events.Kind, pathname string, metadata any) {
		raw, _ := json.Marshal(metadata)
		req := events.TrackRequest{
			Event:     string(kind),
			SessionID: session,
			URL:       "https://linkhub.local" + pathname,
			Pathname:  pathname,
			UserAgent: ua,
			Metadata:  raw,
		}
		if referrer != "" {
			ref := referrer
			req.Referrer = &ref
		}
		_, err := events.CollectEvent(s.DBManager, s.Logger, &events.CollectEventInput{
			Request:    req,
			IPAddress:  ip,
			ReceivedAt: at,
		})
		if err != nil {
			s.Logger.Error("Failed to collect event during seeding", slog.Any("error", err))
			return
		}
		stored++
	}

	emit(events.KindPageView, "/", map[string]any{"title": "Linkhub"})
	at = at.Add(time.Duration(5+s.rng.IntN(40)) * time.Second)
	if s.rng.Float64() < 0.3 || len(catalog) == 0 {
		emit(events.KindPageExit, "/", map[string]any{"timeOnPage": 12, "maxScrollDepth": 25})
		return stored
	}

	business := catalog[s.rng.IntN(len(catalog))]
	path := businesses.PathPrefix + business.Slug
	referrer = ""
	emit(events.KindPageView, path, map[string]any{"title": business.Name})

	maxDepth := 0
	for _, depth := range []int{25, 50, 75, 100} {
		if s.rng.Float64() > 0.7 {
			break
		}
		at = at.Add(time.Duration(1+s.rng.IntN(10)) * time.Second)
		emit(events.KindScrollDepth, path, map[string]any{"depth": depth, "scrollPercent": depth})
		maxDepth = depth
	}

	timeOnPage := 15 + s.rng.IntN(180)
	for beat := 15; beat <= timeOnPage; beat += 15 {
		at = at.Add(15 * time.Second)
		emit(events.KindHeartbeat, path, map[string]any{"timeOnPage": beat, "isActive": true})
	}

	if s.rng.Float64() < 0.35 {
		kind := contactKinds[s.rng.IntN(len(contactKinds))]
		emit(kind, path, map[string]any{"href": contactHrefs[kind], "text": "Contact", "element": "a"})
	}

	at = at.Add(time.Duration(1+s.rng.IntN(15)) * time.Second)
	emit(events.KindPageExit, path, map[string]any{"timeOnPage": timeOnPage, "maxScrollDepth": maxDepth})
	return stored
}
