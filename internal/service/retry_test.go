package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5}
	calls := 0
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("conflict")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestRetryPolicy_ReturnsLastError(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3}
	calls := 0
	err := p.Do(context.Background(), func(attempt int) error {
		calls++
		return errors.New("attempt failed")
	})
	if err == nil || err.Error() != "attempt failed" {
		t.Fatalf("err=%v", err)
	}
	if calls != 3 {
		t.Fatalf("calls=%d want 3", calls)
	}
}

func TestRetryPolicy_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("db down")
	p := RetryPolicy{MaxAttempts: 5}
	calls := 0
	err := p.Do(context.Background(), func(int) error {
		calls++
		return Permanent(sentinel)
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("err=%v want sentinel", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryPolicy{}.Do(context.Background(), func(int) error {
		calls++
		return errors.New("x")
	})
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	fixed := RetryPolicy{Delay: 10 * time.Millisecond, Multiplier: 1}
	if fixed.Backoff(1) != 10*time.Millisecond || fixed.Backoff(3) != 10*time.Millisecond {
		t.Fatalf("fixed backoff changed: %v %v", fixed.Backoff(1), fixed.Backoff(3))
	}
	exp := RetryPolicy{Delay: 10 * time.Millisecond, Multiplier: 2}
	if got := exp.Backoff(3); got != 40*time.Millisecond {
		t.Fatalf("exp backoff(3)=%v want 40ms", got)
	}
}

func TestRetryPolicy_ContextCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 3, Delay: time.Hour}
	calls := 0
	err := p.Do(ctx, func(int) error {
		calls++
		cancel()
		return errors.New("conflict")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d want 1", calls)
	}
}
