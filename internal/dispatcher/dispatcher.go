// Package dispatcher manages worker fan-out over the request queue.
package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

// Runner is one long-lived client loop.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
	running atomic.Bool
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until every one of them returns.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	d.running.Store(true)
	defer d.running.Store(false)
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// Running reports whether the workers have been started and not yet stopped.
func (d *Dispatcher) Running() bool {
	return d.running.Load()
}

// Pending returns the number of queued jobs.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Workers returns the size of the pool.
func (d *Dispatcher) Workers() int {
	return len(d.workers)
}
