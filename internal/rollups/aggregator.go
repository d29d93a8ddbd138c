package rollups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"linkhub/internal/businesses"
	"linkhub/internal/events"
	"linkhub/internal/pkg/async"
	"linkhub/internal/pkg/metrics"
	"linkhub/internal/timeframe"
)

// Aggregator computes daily rollups from raw events and stores them idempotently.
type Aggregator struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	locker    Locker
	pool      *async.Pool
	batchSize int
	clock     timeframe.TimeProvider
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

func WithLocker(l Locker) Option                { return func(a *Aggregator) { a.locker = l } }
func WithWorkers(n int) Option                  { return func(a *Aggregator) { a.pool = async.NewPool(n) } }
func WithClock(c timeframe.TimeProvider) Option { return func(a *Aggregator) { a.clock = c } }

// WithBatchSize sets how many raw events are loaded per page while folding a day.
// Non-positive values keep the default.
func WithBatchSize(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

func NewAggregator(dbManager cartridge.DBManager, logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		dbManager: dbManager,
		logger:    logger,
		locker:    NewLocalLocker(),
		pool:      async.NewPool(4),
		batchSize: events.DefaultBatchSize,
		clock:     timeframe.DefaultTimeProvider{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) db(ctx context.Context) *gorm.DB {
	return a.dbManager.GetConnection().WithContext(ctx)
}

func (a *Aggregator) accumulate(ctx context.Context, scope events.Scope, day time.Time) (*Accumulator, error) {
	from := timeframe.StartOfDay(day)
	acc := NewAccumulator()
	err := events.StreamRange(a.db(ctx), scope, from, from.AddDate(0, 0, 1), a.batchSize, func(batch []events.RawEvent) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		acc.AddAll(batch)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return acc, nil
}

// ComputeBusinessDay builds the rollup of business for day without storing it.
func (a *Aggregator) ComputeBusinessDay(ctx context.Context, business businesses.Business, day time.Time) (*BusinessRollup, error) {
	acc, err := a.accumulate(ctx, events.ForBusiness(business.Slug), day)
	if err != nil {
		return nil, fmt.Errorf("failed to compute business rollup: %w", err)
	}
	return &BusinessRollup{
		BusinessID: business.ID,
		Date:       timeframe.DateKey(day),
		Metrics:    acc.Metrics(),
		ComputedAt: a.clock.Now(),
	}, nil
}

// ComputePlatformDay builds the platform rollup for day without storing it.
func (a *Aggregator) ComputePlatformDay(ctx context.Context, day time.Time) (*PlatformRollup, error) {
	acc, err := a.accumulate(ctx, events.PlatformScope, day)
	if err != nil {
		return nil, fmt.Errorf("failed to compute platform rollup: %w", err)
	}

	catalog, err := businesses.ListBySlugs(a.db(ctx), acc.Slugs())
	if err != nil {
		return nil, err
	}

	homepage, businessViews, contact := acc.FunnelCounts()
	return &PlatformRollup{
		Date:           timeframe.DateKey(day),
		Metrics:        acc.Metrics(),
		HomepageViews:  homepage,
		BusinessViews:  businessViews,
		ContactActions: contact,
		TopBusinesses:  acc.TopBusinesses(catalog, TopListSize),
		TopCategories:  acc.TopCategories(catalog, TopListSize),
		ComputedAt:     a.clock.Now(),
	}, nil
}

// RollupBusinessDay recomputes and replaces the stored rollup of (businessID, day).
func (a *Aggregator) RollupBusinessDay(ctx context.Context, businessID uint, day time.Time) (rollup *BusinessRollup, err error) {
	started := time.Now()
	defer func() { metrics.ObserveRollup("business", started, err) }()

	business, err := businesses.GetBusinessByID(a.db(ctx), businessID)
	if err != nil {
		return nil, err
	}
	return a.rollupBusiness(ctx, *business, day)
}

func (a *Aggregator) rollupBusiness(ctx context.Context, business businesses.Business, day time.Time) (*BusinessRollup, error) {
	date := timeframe.DateKey(day)
	unlock, err := a.locker.Lock(ctx, BusinessKey(business.ID, date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rollup, err := a.ComputeBusinessDay(ctx, business, day)
	if err != nil {
		return nil, err
	}

	err = sqlite.PerformWrite(a.logger, a.dbManager.GetConnection(), func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_id"}, {Name: "date"}},
			UpdateAll: true,
		}).Create(rollup).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store business rollup %s: %w", BusinessKey(business.ID, date), err)
	}

	a.logger.Debug("Business rollup stored",
		slog.String("business", business.Slug),
		slog.String("date", date),
		slog.Int("views", rollup.Views))
	return rollup, nil
}

// RollupPlatformDay recomputes and replaces the stored platform rollup of day.
func (a *Aggregator) RollupPlatformDay(ctx context.Context, day time.Time) (rollup *PlatformRollup, err error) {
	started := time.Now()
	defer func() { metrics.ObserveRollup("platform", started, err) }()

	date := timeframe.DateKey(day)
	unlock, err := a.locker.Lock(ctx, PlatformKey(date))
	if err != nil {
		return nil, err
	}
	defer unlock()

	rollup, err = a.ComputePlatformDay(ctx, day)
	if err != nil {
		return nil, err
	}

	err = sqlite.PerformWrite(a.logger, a.dbManager.GetConnection(), func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "date"}},
			UpdateAll: true,
		}).Create(rollup).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store platform rollup %s: %w", PlatformKey(date), err)
	}

	a.logger.Debug("Platform rollup stored",
		slog.String("date", date),
		slog.Int("views", rollup.Views))
	return rollup, nil
}

// BackfillResult summarises a range rollup.
type BackfillResult struct {
	BusinessRollups int
	PlatformRollups int
	Failed          []string
}

// Backfill rolls up the platform and every business with events on each day of r.
// A failing key does not stop the others; all failures are joined into the returned error.
func (a *Aggregator) Backfill(ctx context.Context, r timeframe.DayRange) (BackfillResult, error) {
	var result BackfillResult
	var tasks []async.Task
	var errs []error

	for _, day := range r.Days() {
		day := day
		date := timeframe.DateKey(day)

		slugs, err := events.BusinessSlugsInRange(a.db(ctx), day, day.AddDate(0, 0, 1))
		if err != nil {
			return result, err
		}
		catalog, err := businesses.ListBySlugs(a.db(ctx), slugs)
		if err != nil {
			return result, err
		}
		for _, slug := range slugs {
			business, ok := catalog[slug]
			if !ok {
				a.logger.Debug("Skipping events for unknown business", slog.String("slug", slug), slog.String("date", date))
				continue
			}
			tasks = append(tasks, async.Task{
				Name: BusinessKey(business.ID, date),
				Execute: func() (interface{}, error) {
					started := time.Now()
					rollup, err := a.rollupBusiness(ctx, business, day)
					metrics.ObserveRollup("business", started, err)
					return rollup, err
				},
			})
		}

		tasks = append(tasks, async.Task{
			Name: PlatformKey(date),
			Execute: func() (interface{}, error) {
				return a.RollupPlatformDay(ctx, day)
			},
		})
	}

	results := a.pool.Execute(ctx, tasks)

	for _, task := range tasks {
		res := results[task.Name]
		if res.Err != nil {
			a.logger.Error("Rollup failed", slog.String("key", task.Name), slog.Any("error", res.Err))
			result.Failed = append(result.Failed, task.Name)
			errs = append(errs, fmt.Errorf("%s: %w", task.Name, res.Err))
			continue
		}
		switch res.Data.(type) {
		case *BusinessRollup:
			result.BusinessRollups++
		case *PlatformRollup:
			result.PlatformRollups++
		}
	}

	a.logger.Info("Rollup backfill finished",
		slog.String("from", r.FirstKey()),
		slog.String("to", r.LastKey()),
		slog.Int("business_rollups", result.BusinessRollups),
		slog.Int("platform_rollups", result.PlatformRollups),
		slog.Int("failed", len(result.Failed)))

	return result, errors.Join(errs...)
}

// RecentDays rolls up today and yesterday, the window the scheduler refreshes.
func (a *Aggregator) RecentDays(ctx context.Context) (BackfillResult, error) {
	now := a.clock.Now()
	return a.Backfill(ctx, timeframe.LastNDays(now, 2))
}
