// Package scheduler runs periodic jobs such as the nightly re-crawl and the
// reminder check.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/price-sentinel/internal/logging"
)

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job on its own ticker. A job never overlaps itself: a
// tick that arrives while the previous run is still going is dropped.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

// New creates a Scheduler. Jobs with a non-positive interval are ignored.
func New(logger *zap.Logger, jobs ...Job) *Scheduler {
	logger = logging.Component(logger, "scheduler")
	kept := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		if job.Interval <= 0 || job.Run == nil {
			logger.Warn("job disabled", zap.String("job", job.Name))
			continue
		}
		kept = append(kept, job)
	}
	return &Scheduler{jobs: kept, logger: logger}
}

// Run starts every job and blocks until ctx is done and all runs have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, job)
		}()
	}
	<-ctx.Done()
	wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	logger := s.logger.With(zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	logger.Info("job scheduled")
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("job stopped")
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				logger.Error("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
				continue
			}
			logger.Info("job finished", zap.Duration("duration", time.Since(start)))
		}
	}
}
