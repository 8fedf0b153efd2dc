// Package dispatcher contains tests for worker coordination.
package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
	"github.com/JakeFAU/github-activity-crawler/internal/queue/memory"
)

type blockingRunner struct {
	started *atomic.Int32
}

func (r blockingRunner) Run(ctx context.Context) {
	r.started.Add(1)
	<-ctx.Done()
}

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	q := memory.NewQueue()
	require.NoError(t, q.PushBack(crawler.Job{Kind: crawler.JobKindEvents, Account: "alice"}))
	d := New(q, []Runner{blockingRunner{&started}, blockingRunner{&started}})
	assert.False(t, d.Running())
	assert.Equal(t, 1, d.Pending())
	assert.Equal(t, 2, d.Workers())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return started.Load() == 2 && d.Running() }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
	assert.False(t, d.Running())
}
