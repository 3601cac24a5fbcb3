package pipeline

import (
	"context"
	"time"
)

// withBackoff runs fn up to maxAttempts times with exponential backoff.
// retriable decides whether a given failure is worth another attempt; a
// permanent failure or a done context returns immediately.
func withBackoff(ctx context.Context, maxAttempts int, baseDelay time.Duration, retriable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !retriable(lastErr) {
			return lastErr
		}

		if attempt < maxAttempts-1 {
			wait := baseDelay * (1 << uint(attempt))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return lastErr
}
