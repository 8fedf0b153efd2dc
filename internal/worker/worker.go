// Package worker implements the client loop that drains the request queue.
package worker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/metrics"
)

// DefaultIdleInterval is slept after a full pass of deferred jobs.
const DefaultIdleInterval = 250 * time.Millisecond

// Processor executes one queued job. crawler.Crawler satisfies it.
type Processor interface {
	ProcessRequest(ctx context.Context) (crawler.Result, error)
	Pending() int
}

// Clock supplies timers so tests can control sleeping.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

// Config controls Worker pacing.
type Config struct {
	Index           int
	DefaultInterval time.Duration
	IdleInterval    time.Duration
}

// Worker repeatedly processes jobs, sleeping the interval each result recommends.
type Worker struct {
	processor Processor
	clock     Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(processor Processor, clock Clock, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = DefaultIdleInterval
	}
	metrics.Init()
	return &Worker{
		processor: processor,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker").With(zap.Int("index", cfg.Index)),
	}
}

// Run blocks, processing jobs until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	w.logger.Debug("worker started")
	defer w.logger.Debug("worker stopped")

	deferred := 0
	for ctx.Err() == nil {
		wait, stop := w.step(ctx, &deferred)
		if stop {
			return
		}
		if !w.sleep(ctx, wait) {
			return
		}
	}
}

// step runs one job and returns how long to sleep before the next.
func (w *Worker) step(ctx context.Context, deferred *int) (time.Duration, bool) {
	result, err := w.processor.ProcessRequest(ctx)
	switch {
	case errors.Is(err, crawler.ErrQueueClosed):
		w.logger.Info("queue closed")
		return 0, true
	case errors.Is(err, crawler.ErrEmptyQueue):
		*deferred = 0
		return w.cfg.DefaultInterval, false
	case err != nil:
		if ctx.Err() != nil {
			return 0, true
		}
		w.logger.Error("process request failed", zap.Error(err))
		*deferred = 0
		return w.cfg.DefaultInterval, false
	}

	if result.Outcome != crawler.OutcomeDeferred {
		*deferred = 0
		w.logger.Debug("job processed",
			zap.String("kind", string(result.Job.Kind)),
			zap.String("account", result.Job.Account),
			zap.String("outcome", string(result.Outcome)),
			zap.Duration("interval", result.Interval),
		)
		return result.Interval, false
	}

	// Every pending job was deferred: idle instead of spinning over the queue.
	*deferred++
	if *deferred >= max(1, w.processor.Pending()) {
		*deferred = 0
		return max(result.Interval, w.cfg.IdleInterval), false
	}
	return result.Interval, false
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-w.clock.After(d):
		return true
	}
}
