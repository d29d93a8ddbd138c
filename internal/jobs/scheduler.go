package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job is a unit of background work run on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler is responsible for running background jobs
type Scheduler struct {
	logger    *slog.Logger
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      []Job
	mu        sync.Mutex
	isRunning bool
	wg        sync.WaitGroup
}

func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		jobs:   jobs,
	}
}

// executeJobSafely runs a job, logging its error or recovering its panic.
// Runs of one job never overlap: each job's loop calls it sequentially, and
// ticks that fire while it runs are dropped by the ticker.
func (s *Scheduler) executeJobSafely(job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", job.Name),
				slog.Any("panic", r))
		}
	}()

	started := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("Error executing job", slog.String("job", job.Name), slog.Any("error", err))
		return
	}
	s.logger.Debug("Job finished", slog.String("job", job.Name), slog.Duration("took", time.Since(started)))
}

// Start begins all background jobs. Each job runs once immediately, then on its interval.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}
	s.isRunning = true

	for _, job := range s.jobs {
		s.logger.Info("Starting background job",
			slog.String("job", job.Name),
			slog.Duration("interval", job.Interval))
		s.wg.Add(1)
		go s.loop(job)
	}
	return nil
}

func (s *Scheduler) loop(job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.executeJobSafely(job)
	for {
		select {
		case <-ticker.C:
			s.executeJobSafely(job)
		case <-s.ctx.Done():
			s.logger.Info("Background job stopped", slog.String("job", job.Name))
			return
		}
	}
}

// Stop halts all background jobs and waits for running ones to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background jobs...")
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.isRunning = false
	s.mu.Unlock()
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
