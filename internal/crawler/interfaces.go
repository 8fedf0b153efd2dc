package crawler

import (
	"context"
	"time"
)

// Queue is the shared request queue. Implementations must be safe for
// concurrent producers and consumers.
type Queue interface {
	PushBack(job Job) error
	PushFront(job Job) error
	// PopFront returns ErrEmptyQueue when nothing is pending and ErrQueueClosed after shutdown.
	PopFront() (Job, error)
	Len() int
}

// PositionStore persists per-account cursors. Set merges with the stored value
// using Position.Merge semantics.
type PositionStore interface {
	Get(ctx context.Context, account string) (Position, bool, error)
	Set(ctx context.Context, account string, position Position) error
}

// Fetcher performs a single GET and returns the body plus metadata. Non-2xx
// statuses are returned as responses, not errors.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Emitter receives every tagged record the engine produces.
type Emitter interface {
	Emit(ctx context.Context, tag string, record Record) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ctx context.Context, tag string, record Record) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, tag string, record Record) error {
	return f(ctx, tag, record)
}

// Archiver keeps a copy of raw feed bodies.
type Archiver interface {
	Archive(ctx context.Context, account string, body []byte) (string, error)
}

// RetryPolicy decides whether and when a failed commit fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
