package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleepPolicy(sleeps *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
		return nil
	}
	return p
}

func TestRetryPolicyStopsAfterMaxAttempts(t *testing.T) {
	var sleeps []time.Duration
	p := noSleepPolicy(&sleeps)

	calls := 0
	attempts, err := p.Do(context.Background(), func(int) error {
		calls++
		return transientError("test", 503, errors.New("unavailable"))
	})
	if calls != 3 || attempts != 3 {
		t.Fatalf("calls=%d attempts=%d, want 3/3", calls, attempts)
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient error to surface, got %v", err)
	}
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 4*time.Second {
		t.Fatalf("unexpected backoff sequence: %v", sleeps)
	}
}

func TestRetryPolicyFatalIsNotRetried(t *testing.T) {
	p := noSleepPolicy(nil)
	calls := 0
	attempts, err := p.Do(context.Background(), func(int) error {
		calls++
		return fatalError("test", 401, errors.New("bad key"))
	})
	if calls != 1 || attempts != 1 {
		t.Fatalf("calls=%d attempts=%d, want 1/1", calls, attempts)
	}
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestRetryPolicyRecovers(t *testing.T) {
	p := noSleepPolicy(nil)
	attempts, err := p.Do(context.Background(), func(attempt int) error {
		if attempt < 2 {
			return transientError("test", 429, errors.New("rate limited"))
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("attempts=%d err=%v, want 2/nil", attempts, err)
	}
}

func TestRetryPolicyCustomPredicate(t *testing.T) {
	p := noSleepPolicy(nil)
	p.MaxAttempts = 5
	p.Retryable = func(error) bool { return false }
	calls := 0
	_, _ = p.Do(context.Background(), func(int) error {
		calls++
		return transientError("test", 500, errors.New("boom"))
	})
	if calls != 1 {
		t.Fatalf("calls=%d, want 1 when predicate rejects retries", calls)
	}
}

func TestRetryPolicySleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := DefaultRetryPolicy()
	p.BaseDelay = time.Hour
	attempts, err := p.Do(ctx, func(int) error {
		return transientError("test", 500, errors.New("boom"))
	})
	if attempts != 1 {
		t.Fatalf("attempts=%d, want 1", attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffCapped(t *testing.T) {
	p := RetryPolicy{BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{9, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Backoff(tt.attempt); got != tt.want {
			t.Fatalf("Backoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{400, KindFatal},
		{401, KindFatal},
		{403, KindFatal},
		{404, KindFatal},
		{408, KindTransient},
		{429, KindTransient},
		{500, KindTransient},
		{529, KindTransient},
	}
	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Fatalf("classifyStatus(%d) = %s, want %s", tt.status, got, tt.want)
		}
	}
	if !IsTransient(classifyTransportError("x", context.DeadlineExceeded)) {
		t.Fatal("expected deadline exceeded to be transient")
	}
	if !IsFatal(classifyTransportError("x", context.Canceled)) {
		t.Fatal("expected cancellation to be fatal")
	}
}
