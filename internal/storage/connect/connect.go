// Package connect waits for network datastores to become reachable.
package connect

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultAttempts bounds the retries of WaitReady when no policy is given.
const DefaultAttempts = 5

// DefaultBackOff is the dial policy used by the stores.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return backoff.WithMaxRetries(b, DefaultAttempts)
}

// WaitReady calls ping until it succeeds, the policy gives up or ctx ends.
func WaitReady(ctx context.Context, name string, ping func(context.Context) error, policy backoff.BackOff, logger *zap.Logger) error {
	if policy == nil {
		policy = DefaultBackOff()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	op := func() error { return ping(ctx) }
	notify := func(err error, wait time.Duration) {
		logger.Warn("datastore not ready, retrying",
			zap.String("store", name),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(policy, ctx), notify); err != nil {
		return fmt.Errorf("%s not reachable: %w", name, err)
	}
	return nil
}
