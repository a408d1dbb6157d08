package host

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"
)

// retryPolicy bounds the backoff loop around host calls.
type retryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// withRetry runs fn, retrying transient and rate-limited failures with
// exponential backoff and jitter. Non-retryable kinds propagate immediately.
func withRetry(ctx context.Context, p retryPolicy, op string, fn func() error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var he *Error
		if !errors.As(err, &he) || !retryable(he.Kind) || attempt >= p.MaxAttempts {
			return err
		}

		// Full jitter over the current window.
		sleep := time.Duration(rand.Int63n(int64(delay))) + delay/2
		slog.Debug("retrying host call", "op", op, "attempt", attempt, "kind", he.Kind, "backoff", sleep)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
}
