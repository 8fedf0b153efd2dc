// Package memory provides the in-process request queue.
package memory

import (
	"container/list"
	"sync"

	"github.com/JakeFAU/github-activity-crawler/internal/crawler"
)

// Queue is an unbounded double-ended queue of crawl jobs.
type Queue struct {
	mu     sync.Mutex
	items  *list.List
	closed bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{items: list.New()}
}

// PushBack appends a job to the tail.
func (q *Queue) PushBack(job crawler.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	q.items.PushBack(job)
	return nil
}

// PushFront places a job at the head so it is popped next.
func (q *Queue) PushFront(job crawler.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return crawler.ErrQueueClosed
	}
	q.items.PushFront(job)
	return nil
}

// PopFront removes and returns the head job.
func (q *Queue) PopFront() (crawler.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return crawler.Job{}, crawler.ErrQueueClosed
	}
	head := q.items.Front()
	if head == nil {
		return crawler.Job{}, crawler.ErrEmptyQueue
	}
	q.items.Remove(head)
	return head.Value.(crawler.Job), nil
}

// Len reports the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Snapshot returns a copy of the pending jobs in pop order.
func (q *Queue) Snapshot() []crawler.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := make([]crawler.Job, 0, q.items.Len())
	for e := q.items.Front(); e != nil; e = e.Next() {
		jobs = append(jobs, e.Value.(crawler.Job))
	}
	return jobs
}

// Close rejects further operations. Pending jobs are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items.Init()
}
