package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerRunsJobsUntilCanceled(t *testing.T) {
	t.Parallel()

	var runs, active, overlap atomic.Int32
	job := Job{
		Name:     "crawl",
		Interval: 5 * time.Millisecond,
		Run: func(context.Context) error {
			if active.Add(1) > 1 {
				overlap.Add(1)
			}
			defer active.Add(-1)
			runs.Add(1)
			time.Sleep(12 * time.Millisecond)
			return nil
		},
	}
	failing := Job{Name: "remind", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		return errors.New("boom")
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New(zap.NewNop(), job, failing).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.Zero(t, overlap.Load())
}

func TestNewDropsDisabledJobs(t *testing.T) {
	t.Parallel()

	s := New(nil,
		Job{Name: "zero", Run: func(context.Context) error { return nil }},
		Job{Name: "nil", Interval: time.Second},
		Job{Name: "ok", Interval: time.Second, Run: func(context.Context) error { return nil }},
	)
	require.Len(t, s.jobs, 1)
	require.Equal(t, "ok", s.jobs[0].Name)
}
