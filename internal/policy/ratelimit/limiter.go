// Package ratelimit implements a per-host token bucket that also honors the
// API's published rate-limit window.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/github-activity-crawler/internal/metrics"
)

// Rate-limit headers sent by the API on every response.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	blocked      map[string]time.Time
	defaultRate  rate.Limit
	defaultBurst int
	now          func() time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter. A non-positive rate disables the token bucket.
func New(cfg Config) *Limiter {
	metrics.Init()
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		blocked:      make(map[string]time.Time),
		defaultRate:  r,
		defaultBurst: burst,
		now:          time.Now,
	}
}

// Wait blocks until a request to rawURL may be sent, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeHost(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	until := l.blocked[host]
	l.mu.Unlock()

	start := l.now()
	if pause := until.Sub(start); pause > 0 {
		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait: %w", ctx.Err())
		case <-timer.C:
		}
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := l.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Observe inspects the rate-limit headers of a response. When the window is
// exhausted, requests to the host pause until the advertised reset time.
func (l *Limiter) Observe(rawURL string, headers http.Header) {
	if headers.Get(HeaderRemaining) != "0" {
		return
	}
	reset, err := strconv.ParseInt(headers.Get(HeaderReset), 10, 64)
	if err != nil {
		return
	}
	until := time.Unix(reset, 0)
	if !until.After(l.now()) {
		return
	}
	host := metrics.SanitizeHost(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	if until.After(l.blocked[host]) {
		l.blocked[host] = until
	}
}

// BlockedUntil returns the pause deadline recorded for the host of rawURL.
func (l *Limiter) BlockedUntil(rawURL string) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blocked[metrics.SanitizeHost(rawURL)]
}
