package util

import (
	"context"
	"time"
)

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay. It returns nil on the first successful call, or the last error
// if all attempts fail. The function respects context cancellation between
// retries. onError, if non-nil, observes every failed attempt (1-based).
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func(context.Context) error, onError func(attempt int, err error)) error {
	var err error
	delay := baseDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if onError != nil {
			onError(attempt, err)
		}

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}
