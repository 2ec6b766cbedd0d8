package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"optibench/internal/common/db"
	"optibench/pkg/utils/logger"
)

// Config holds worker pool settings.
type Config struct {
	// Workers is the number of concurrent pipeline goroutines.
	Workers int `yaml:"workers"`

	// PollInterval is the idle wait between claim attempts.
	PollInterval time.Duration `yaml:"pollInterval"`
}

// schemaRetryInterval is the wait when the jobs table does not exist yet.
// At process start the HTTP layer may initialize the schema after the pool
// is already polling.
const schemaRetryInterval = 500 * time.Millisecond

// Pool runs a fixed set of workers that claim and process jobs until the
// context is cancelled.
type Pool struct {
	store    JobStore
	pipeline *Pipeline
	cfg      Config
}

// NewPool creates a pool; zero config fields get safe defaults.
func NewPool(store JobStore, pipeline *Pipeline, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &Pool{store: store, pipeline: pipeline, cfg: cfg}
}

// Run blocks until ctx is cancelled and all workers have drained. A worker
// never abandons a claimed job mid-flight; cancellation is honored between
// jobs.
func (p *Pool) Run(ctx context.Context) {
	logger.Info(ctx, "starting worker pool", zap.Int("workers", p.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.workerLoop(ctx, workerID)
		}(i)
	}
	wg.Wait()
	logger.Info(ctx, "worker pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.store.ClaimNext(ctx)
		if err != nil {
			wait := p.cfg.PollInterval
			if db.IsSchemaMissing(err) {
				wait = schemaRetryInterval
			} else if ctx.Err() == nil {
				logger.Error(ctx, "claim failed",
					zap.Int("worker_id", workerID), zap.Error(err))
			}
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}
		if job == nil {
			if !sleepCtx(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		p.pipeline.Process(ctx, workerID, job)
	}
}

// sleepCtx waits d or until ctx is done; reports whether the loop should
// keep running.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
