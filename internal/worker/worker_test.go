package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

type step struct {
	result crawler.Result
	err    error
}

// scriptedProcessor replays steps and reports ErrQueueClosed once exhausted.
type scriptedProcessor struct {
	mu      sync.Mutex
	steps   []step
	pending int
	calls   int
}

func (p *scriptedProcessor) ProcessRequest(context.Context) (crawler.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.steps) == 0 {
		return crawler.Result{}, crawler.ErrQueueClosed
	}
	next := p.steps[0]
	p.steps = p.steps[1:]
	return next.result, next.err
}

func (p *scriptedProcessor) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// instantClock records requested sleeps and fires immediately.
type instantClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func (c *instantClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func outcome(o crawler.Outcome, interval time.Duration) step {
	return step{result: crawler.Result{Outcome: o, Interval: interval}}
}

func TestWorkerSleepsRecommendedInterval(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{steps: []step{
		outcome(crawler.OutcomeFetched, 2*time.Second),
		outcome(crawler.OutcomeNotModified, 0),
		outcome(crawler.OutcomeRetried, 3*time.Second),
	}}
	clock := &instantClock{}
	New(proc, clock, Config{DefaultInterval: time.Second}, zap.NewNop()).Run(context.Background())

	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second}, clock.recorded())
	assert.Equal(t, 4, proc.calls)
}

func TestWorkerEmptyQueueSleepsDefaultInterval(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{steps: []step{
		{err: crawler.ErrEmptyQueue},
		{err: errors.New("unexpected")},
	}}
	clock := &instantClock{}
	New(proc, clock, Config{DefaultInterval: 5 * time.Second}, nil).Run(context.Background())

	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, clock.recorded())
}

func TestWorkerIdlesAfterDeferredPass(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{pending: 2, steps: []step{
		outcome(crawler.OutcomeDeferred, 0),
		outcome(crawler.OutcomeDeferred, 0),
		outcome(crawler.OutcomeDeferred, 0),
		outcome(crawler.OutcomeFetched, time.Second),
	}}
	clock := &instantClock{}
	New(proc, clock, Config{IdleInterval: 100 * time.Millisecond}, nil).Run(context.Background())

	// The second deferred outcome completes a pass over both pending jobs.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, time.Second}, clock.recorded())
}

func TestWorkerDefaultIdleInterval(t *testing.T) {
	t.Parallel()

	proc := &scriptedProcessor{pending: 1, steps: []step{outcome(crawler.OutcomeDeferred, 0)}}
	clock := &instantClock{}
	New(proc, clock, Config{}, nil).Run(context.Background())
	assert.Equal(t, []time.Duration{DefaultIdleInterval}, clock.recorded())
}

// blockingProcessor always reports an empty queue.
type blockingProcessor struct {
	started chan struct{}
	once    sync.Once
}

func (p *blockingProcessor) ProcessRequest(context.Context) (crawler.Result, error) {
	p.once.Do(func() { close(p.started) })
	return crawler.Result{}, crawler.ErrEmptyQueue
}

func (p *blockingProcessor) Pending() int { return 0 }

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func TestWorkerStopsOnCancel(t *testing.T) {
	t.Parallel()

	proc := &blockingProcessor{started: make(chan struct{})}
	w := New(proc, realClock{}, Config{DefaultInterval: time.Hour}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	select {
	case <-proc.started:
	case <-time.After(time.Second):
		t.Fatal("worker did not start")
	}
	cancel()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}
