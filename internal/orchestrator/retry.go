package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// CallWithRetry invokes fn up to maxRetries+1 times, waiting
// initialBackoff * 2^attempt between attempts. The waits are cooperative:
// they are cut short when ctx is cancelled. onRetry, when non-nil, is called
// before each wait so callers can surface a "retrying" status. After the last
// failed attempt the last error is returned.
//
// The policy knows nothing about what fn does; it is generic over any
// fallible operation.
func CallWithRetry[T any](ctx context.Context, fn func(context.Context) (T, error), maxRetries int, initialBackoff time.Duration, onRetry func(attempt int, wait time.Duration)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		zap.S().Named("retry").Warnw("attempt failed", "attempt", attempt, "error", err)

		if attempt == maxRetries {
			break
		}

		wait := initialBackoff << attempt
		if onRetry != nil {
			onRetry(attempt, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}

	return zero, lastErr
}
