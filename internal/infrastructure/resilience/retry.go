package resilience

import (
	"context"
	"time"
)

// RetryPolicy is a bounded retry schedule. The delay before the next attempt
// depends on how the previous attempt failed, so a caller can wait briefly
// after an empty answer and longer after a hard failure.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int
	// Backoff returns the delay to wait after a failed attempt (1-based)
	Backoff func(attempt int, err error) time.Duration
	// OnRetry is called before waiting for the next attempt
	OnRetry func(attempt int, err error, delay time.Duration)
	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// FixedBackoff waits shortDelay after errors matching short and longDelay
// after any other error.
func FixedBackoff(short func(error) bool, shortDelay, longDelay time.Duration) func(int, error) time.Duration {
	return func(_ int, err error) time.Duration {
		if short != nil && short(err) {
			return shortDelay
		}
		return longDelay
	}
}

// Retry runs fn until it succeeds or the policy is exhausted. It returns the
// last value and error together with the number of attempts made. No delay
// follows the final attempt.
func Retry[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		value T
		err   error
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		value, err = fn(ctx, attempt)
		if err == nil {
			return value, attempt, nil
		}
		if attempt == maxAttempts {
			return value, attempt, err
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return value, attempt, err
		}
	}
	return value, maxAttempts, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
