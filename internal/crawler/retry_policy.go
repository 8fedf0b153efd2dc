package crawler

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultMaxCommitAttempts bounds how many times a commit fetch is tried
// before the commit is replaced with a tombstone.
const DefaultMaxCommitAttempts = 3

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy that gives up after maxAttempts failures.
func NewExponentialRetryPolicy(maxAttempts int) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxCommitAttempts
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   time.Second,
		maxDelay:    time.Minute,
	}
}

// ShouldRetry decides whether another attempt is allowed after attempt failures.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !errors.Is(err, ErrMissingCommit)
}

// Backoff returns the wait duration before the next attempt. The nominal
// delay doubles per attempt up to maxDelay and the result falls in
// [nominal/2, nominal].
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.baseDelay * 3 / 4
	b.MaxInterval = p.maxDelay * 3 / 4
	b.Multiplier = 2
	b.RandomizationFactor = 1.0 / 3
	b.MaxElapsedTime = 0
	b.Reset()

	var delay time.Duration
	for i := 0; i <= attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
