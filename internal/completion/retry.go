package completion

import (
	"context"
	"time"
)

// SleepFunc is the backoff wait, injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

func ctxSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs fn with an explicit bounded loop: up to maxRetries attempts,
// waiting attempt × 1s between failures. Non-retryable failures and the
// final failure are surfaced as-is. The attempt count used is returned for
// user-visible retry reporting.
func Retry(ctx context.Context, maxRetries int, sleep SleepFunc, fn func(ctx context.Context) (string, error)) (string, int, error) {
	if sleep == nil {
		sleep = ctxSleep
	}
	attempts := maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, err := fn(ctx)
		if err == nil {
			return text, attempt, nil
		}
		lastErr = err
		if !Retryable(err) || attempt == attempts {
			return "", attempt, err
		}
		if err := sleep(ctx, time.Duration(attempt)*time.Second); err != nil {
			return "", attempt, err
		}
	}
	return "", attempts, lastErr
}
