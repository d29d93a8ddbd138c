// Package internal contains core application functionality
package internal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge"

	"linkhub/internal/config"
	"linkhub/internal/database"
	"linkhub/internal/jobs"
	"linkhub/internal/pkg/geoip"
	"linkhub/internal/rollups"
)

// Application wraps cartridge.Application with linkhub-specific components
type Application struct {
	*cartridge.Application
	DBManager *database.DBManager
	Logger    *slog.Logger
}

// NewApp creates a new application instance with default settings
func NewApp() (*Application, error) {
	return NewAppWithConfig(config.GetConfig())
}

// NewAppWithConfig creates a new application with the provided config
func NewAppWithConfig(cfg *config.Config) (*Application, error) {
	logger := cartridge.NewLogger(cfg, nil)
	geoip.InitLogger(logger)

	dbManager := database.NewDBManager(cfg, logger)
	if err := dbManager.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := dbManager.MigrateDatabase(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	locker, err := NewRollupLocker(context.Background(), cfg, logger)
	if err != nil {
		return nil, err
	}
	aggregator := rollups.NewAggregator(dbManager, logger,
		rollups.WithLocker(locker),
		rollups.WithWorkers(cfg.RollupWorkers),
		rollups.WithBatchSize(cfg.RollupBatchSize))

	scheduler := jobs.NewScheduler(logger,
		jobs.NewRollupJob(aggregator, logger, time.Duration(cfg.JobIntervalSeconds)*time.Second),
		jobs.NewGeoLiteUpdater(cfg.MaxMindLicenseKey, cfg.GeoDBPath, logger).Job(),
	)

	app, err := cartridge.NewApplication(cartridge.ApplicationOptions{
		Config:            cfg,
		Logger:            logger,
		DBManager:         dbManager,
		RouteMountFunc:    MountAppRoutes,
		BackgroundWorkers: []cartridge.BackgroundWorker{scheduler},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}

	return &Application{
		Application: app,
		DBManager:   dbManager,
		Logger:      logger,
	}, nil
}

// NewRollupLocker returns a Redis-backed locker when LINKHUB_REDIS_URL is set, so several
// instances never write the same rollup key at once. Otherwise locking is in-process.
func NewRollupLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (rollups.Locker, error) {
	if cfg.RedisURL == "" {
		return rollups.NewLocalLocker(), nil
	}
	client, err := rollups.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	logger.Info("Rollup locks are shared through Redis")
	return rollups.NewRedisLocker(client, cfg.RollupLockTTL(), logger), nil
}
