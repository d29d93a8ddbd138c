package jobs

import (
	"context"
	"log/slog"
	"time"

	"linkhub/internal/rollups"
)

// NewRollupJob refreshes the rollups of today and yesterday on every tick.
func NewRollupJob(aggregator *rollups.Aggregator, logger *slog.Logger, interval time.Duration) Job {
	return Job{
		Name:     "rollups",
		Interval: interval,
		Run: func(ctx context.Context) error {
			result, err := aggregator.RecentDays(ctx)
			if err != nil {
				logger.Warn("Some rollups failed",
					slog.Int("failed", len(result.Failed)),
					slog.Any("keys", result.Failed))
			}
			return err
		},
	}
}
