package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerRunsJobsImmediatelyAndOnInterval(t *testing.T) {
	var runs atomic.Int32
	s := NewScheduler(quietLogger(), Job{
		Name:     "count",
		Interval: 20 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	stopped := runs.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, runs.Load(), "no runs after Stop")
}

func TestSchedulerSurvivesFailingAndPanickingJobs(t *testing.T) {
	var failing, panicking atomic.Int32
	s := NewScheduler(quietLogger(),
		Job{Name: "failing", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			failing.Add(1)
			return errors.New("boom")
		}},
		Job{Name: "panicking", Interval: 10 * time.Millisecond, Run: func(ctx context.Context) error {
			panicking.Add(1)
			panic("boom")
		}},
	)

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return failing.Load() >= 2 && panicking.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
}

func TestSchedulerRunsOfOneJobNeverOverlap(t *testing.T) {
	var active, maxActive, runs atomic.Int32
	s := NewScheduler(quietLogger(), Job{
		Name:     "slow",
		Interval: 2 * time.Millisecond,
		Run: func(ctx context.Context) error {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(15 * time.Millisecond)
			active.Add(-1)
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, int32(1), maxActive.Load())
}
