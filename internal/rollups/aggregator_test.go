package rollups_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkhub/internal/events"
	"linkhub/internal/rollups"
	"linkhub/internal/testsupport"
	"linkhub/internal/timeframe"
)

var jan5 = time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

func TestAcmeEndToEnd(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	acme := testsupport.CreateTestBusiness(t, db, "acme", "Acme", "Trades")

	requests := []events.TrackRequest{
		{Event: "page_view", SessionID: "s1", URL: "https://linkhub.test/business/acme"},
		{Event: "business_call", SessionID: "s1", URL: "https://linkhub.test/business/acme", Metadata: json.RawMessage(`{"href":"tel:+441234567890"}`)},
		{Event: "page_exit", SessionID: "s1", URL: "https://linkhub.test/business/acme", Metadata: json.RawMessage(`{"timeOnPage":42,"maxScrollDepth":0}`)},
	}
	for i, req := range requests {
		_, err := events.CollectEvent(dbManager, logger, &events.CollectEventInput{
			Request:    req,
			UserAgent:  "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			ReceivedAt: jan5.Add(10*time.Hour + time.Duration(i)*time.Second),
		})
		require.NoError(t, err)
	}

	aggregator := rollups.NewAggregator(dbManager, logger)
	rollup, err := aggregator.RollupBusinessDay(context.Background(), acme.ID, jan5)
	require.NoError(t, err)

	var stored rollups.BusinessRollup
	require.NoError(t, db.Where("business_id = ? AND date = ?", acme.ID, "2024-01-05").First(&stored).Error)

	for _, r := range []rollups.BusinessRollup{*rollup, stored} {
		assert.Equal(t, 1, r.Views)
		assert.Equal(t, 1, r.Calls)
		assert.Equal(t, 1, r.UniqueVisitors)
		assert.Equal(t, 42, r.TotalTimeOnPage)
		assert.Equal(t, 42.0, r.AvgTimeOnPage)
		assert.Equal(t, 3, r.DeviceBreakdown["mobile"])
		assert.Equal(t, 3, r.TopHours["10"])
	}
}

func TestRollupIsIdempotent(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	acme := testsupport.CreateTestBusiness(t, db, "acme", "Acme", "")
	for i, session := range []string{"a", "a", "b", "c"} {
		testsupport.InsertRawEvent(t, db, testsupport.EventSpec{
			Kind: events.KindPageView, SessionID: session, Pathname: "/business/acme",
			At: jan5.Add(time.Duration(i) * time.Hour),
		})
	}
	// another business and another day must not leak in
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "z", Pathname: "/business/acme-two", At: jan5})
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "z", Pathname: "/business/acme", At: jan5.AddDate(0, 0, 1)})

	aggregator := rollups.NewAggregator(dbManager, logger)

	first, err := aggregator.RollupBusinessDay(context.Background(), acme.ID, jan5)
	require.NoError(t, err)
	second, err := aggregator.RollupBusinessDay(context.Background(), acme.ID, jan5.Add(13*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, first.Metrics, second.Metrics)
	assert.Equal(t, 4, second.Views)
	assert.Equal(t, 3, second.UniqueVisitors)

	var count int64
	require.NoError(t, db.Model(&rollups.BusinessRollup{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	t.Run("rerun replaces rather than accumulates", func(t *testing.T) {
		require.NoError(t, db.Where("session_id = ?", "c").Delete(&events.RawEvent{}).Error)

		third, err := aggregator.RollupBusinessDay(context.Background(), acme.ID, jan5)
		require.NoError(t, err)
		assert.Equal(t, 3, third.Views)

		var stored rollups.BusinessRollup
		require.NoError(t, db.Where("business_id = ?", acme.ID).First(&stored).Error)
		assert.Equal(t, 3, stored.Views)
		assert.Equal(t, 2, stored.UniqueVisitors)
	})

	t.Run("unknown business", func(t *testing.T) {
		_, err := aggregator.RollupBusinessDay(context.Background(), 9999, jan5)
		assert.Error(t, err)
	})
}

func TestConcurrentRollupsOfSameKey(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	acme := testsupport.CreateTestBusiness(t, db, "acme", "Acme", "")
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "a", Pathname: "/business/acme", At: jan5})

	aggregator := rollups.NewAggregator(dbManager, logger)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := aggregator.RollupBusinessDay(context.Background(), acme.ID, jan5)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var stored []rollups.BusinessRollup
	require.NoError(t, db.Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, 1, stored[0].Views)
}

func TestPlatformRollup(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	testsupport.CreateTestBusiness(t, db, "acme", "Acme", "Trades")
	testsupport.CreateTestBusiness(t, db, "zen", "Zen", "Wellness")

	add := func(kind events.Kind, session, path string, minute int) {
		testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: kind, SessionID: session, Pathname: path, At: jan5.Add(time.Duration(minute) * time.Minute)})
	}
	add(events.KindPageView, "a", "/", 1)
	add(events.KindPageView, "a", "/business/zen", 2)
	add(events.KindPageView, "b", "/", 3)
	add(events.KindPageView, "b", "/business/acme", 4)
	add(events.KindPageView, "c", "/business/acme", 5)
	add(events.KindBusinessWhatsApp, "c", "/business/acme", 6)

	rollup, err := rollups.NewAggregator(dbManager, logger).RollupPlatformDay(context.Background(), jan5)
	require.NoError(t, err)

	assert.Equal(t, 5, rollup.Views)
	assert.Equal(t, 3, rollup.UniqueVisitors)
	assert.Equal(t, 2, rollup.HomepageViews)
	assert.Equal(t, 3, rollup.BusinessViews)
	assert.Equal(t, 1, rollup.ContactActions)
	require.Len(t, rollup.TopBusinesses, 2)
	assert.Equal(t, "acme", rollup.TopBusinesses[0].Slug)
	assert.Equal(t, "zen", rollup.TopBusinesses[1].Slug)
	assert.Equal(t, "Trades", rollup.TopCategories[0].CategoryName)

	var stored rollups.PlatformRollup
	require.NoError(t, db.Where("date = ?", "2024-01-05").First(&stored).Error)
	assert.Equal(t, rollup.TopBusinesses, stored.TopBusinesses)
	assert.Equal(t, rollup.TopCategories, stored.TopCategories)
}

type failingLocker struct {
	inner   rollups.Locker
	failKey string
}

func (f failingLocker) Lock(ctx context.Context, key string) (func(), error) {
	if key == f.failKey {
		return nil, errors.New("lock unavailable")
	}
	return f.inner.Lock(ctx, key)
}

func TestBackfillIsolatesFailures(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	acme := testsupport.CreateTestBusiness(t, db, "acme", "Acme", "")
	zen := testsupport.CreateTestBusiness(t, db, "zen", "Zen", "")
	for day := 0; day < 3; day++ {
		at := jan5.AddDate(0, 0, day).Add(time.Hour)
		testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "a", Pathname: "/business/acme", At: at})
		testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "b", Pathname: "/business/zen", At: at})
	}
	// a slug with no business record is skipped
	testsupport.InsertRawEvent(t, db, testsupport.EventSpec{Kind: events.KindPageView, SessionID: "g", Pathname: "/business/ghost", At: jan5})

	failKey := rollups.BusinessKey(zen.ID, "2024-01-06")
	aggregator := rollups.NewAggregator(dbManager, logger,
		rollups.WithLocker(failingLocker{inner: rollups.NewLocalLocker(), failKey: failKey}),
		rollups.WithWorkers(3),
	)

	result, err := aggregator.Backfill(context.Background(), timeframe.NewDayRange(jan5, jan5.AddDate(0, 0, 2)))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), failKey))
	assert.Equal(t, []string{failKey}, result.Failed)
	assert.Equal(t, 5, result.BusinessRollups)
	assert.Equal(t, 3, result.PlatformRollups)

	var acmeRows int64
	require.NoError(t, db.Model(&rollups.BusinessRollup{}).Where("business_id = ?", acme.ID).Count(&acmeRows).Error)
	assert.Equal(t, int64(3), acmeRows)

	var platformRows int64
	require.NoError(t, db.Model(&rollups.PlatformRollup{}).Count(&platformRows).Error)
	assert.Equal(t, int64(3), platformRows)
}

func TestComputeAcrossBatches(t *testing.T) {
	dbManager, logger := testsupport.SetupTestDBManager(t)
	db := dbManager.GetConnection()
	testsupport.CleanAllTables(db)

	acme := testsupport.CreateTestBusiness(t, db, "acme", "Acme", "")
	for i, session := range []string{"a", "b", "a", "c", "b", "d", "e"} {
		testsupport.InsertRawEvent(t, db, testsupport.EventSpec{
			Kind: events.KindPageView, SessionID: session, Pathname: "/business/acme",
			At: jan5.Add(time.Duration(i) * time.Minute), DeviceType: "desktop",
		})
	}

	whole, err := rollups.NewAggregator(dbManager, logger).ComputeBusinessDay(context.Background(), acme, jan5)
	require.NoError(t, err)
	paged, err := rollups.NewAggregator(dbManager, logger, rollups.WithBatchSize(2)).ComputeBusinessDay(context.Background(), acme, jan5)
	require.NoError(t, err)

	assert.Equal(t, 7, paged.Views)
	assert.Equal(t, 5, paged.UniqueVisitors)
	assert.Equal(t, whole.Metrics, paged.Metrics)
}
