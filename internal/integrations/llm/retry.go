package llm

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy drives the gateway's attempt loop. Sleep is swappable so tests
// run without real delays.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Retryable   func(error) bool
	Sleep       func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
		Retryable:   IsTransient,
		Sleep:       SleepContext,
	}
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Backoff is the wait after the given failed attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt
// budget is spent. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return attempt, nil
		}
		if !retryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}
		if sleepErr := sleep(ctx, p.Backoff(attempt)); sleepErr != nil {
			return attempt, fmt.Errorf("retry interrupted after attempt %d: %w (last error: %v)", attempt, sleepErr, err)
		}
	}
	return maxAttempts, fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}
