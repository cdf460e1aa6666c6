package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy bounds startup connection attempts.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultRetryPolicy gives a sink roughly half a minute to come up.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}

// Connect calls open until it succeeds, doubling the delay after each
// failure. When retries run out the last error is returned as a
// *ConnectionError for target.
func Connect[T any](ctx context.Context, policy RetryPolicy, target string, logger *zap.Logger, open func(context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		value, err := open(ctx)
		if err == nil {
			return value, nil
		}
		if attempt >= maxRetries {
			var zero T
			return zero, &ConnectionError{Target: target, Err: err}
		}

		logger.Warn("sink connect failed, retrying",
			zap.String("target", target),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			var zero T
			return zero, &ConnectionError{Target: target, Err: ctx.Err()}
		case <-timer.C:
		}

		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}
