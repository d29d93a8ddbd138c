package jobs_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkhub/internal/events"
	"linkhub/internal/jobs"
	"linkhub/internal/rollups"
	"linkhub/internal/testsupport"
	"linkhub/internal/timeframe"
)

func TestRollupJobRefreshesRecentDays(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	testsupport.CreateTestBusiness(t, db, "acme", "Acme Plumbing", "Trades")
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "s1", Pathname: "/business/acme", At: now.Add(-time.Hour)})
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "s2", Pathname: "/business/acme", At: now.Add(-24 * time.Hour)})
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "s3", Pathname: "/business/acme", At: now.Add(-72 * time.Hour)})

	aggregator := rollups.NewAggregator(dbManager, logger, rollups.WithClock(timeframe.FixedTimeProvider{At: now}))
	job := jobs.NewRollupJob(aggregator, logger, time.Minute)
	assert.Equal(t, "rollups", job.Name)

	require.NoError(t, job.Run(context.Background()))

	var dates []string
	require.NoError(t, db.Model(&rollups.BusinessRollup{}).Order("date").Pluck("date", &dates).Error)
	assert.Equal(t, []string{"2024-01-04", "2024-01-05"}, dates)

	var platform int64
	require.NoError(t, db.Model(&rollups.PlatformRollup{}).Count(&platform).Error)
	assert.Equal(t, int64(2), platform)
}
