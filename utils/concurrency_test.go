package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSeenSetNoDuplicates(t *testing.T) {
	s := NewSeenSet()

	added := s.Add("amazon:B0TEST1")
	if !added {
		t.Error("first Add should return true")
	}

	added = s.Add("amazon:B0TEST1")
	if added {
		t.Error("second Add of same key should return false")
	}

	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestSeenSetConcurrency(t *testing.T) {
	s := NewSeenSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		key := "ebay:same-item"
		pool.Submit(func() {
			if s.Add(key) {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestRateLimiterMinimumGap(t *testing.T) {
	interval := 50 * time.Millisecond
	rl := NewRateLimiter(interval)

	var timestamps []time.Time
	for i := 0; i < 3; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		timestamps = append(timestamps, time.Now())
	}

	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		if gap < interval-5*time.Millisecond {
			t.Errorf("gap between request %d and %d: %v < minimum %v", i-1, i, gap, interval)
		}
	}
}

func TestRateLimiterCancellation(t *testing.T) {
	rl := NewRateLimiter(time.Minute)
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("expected context error from cancelled Wait")
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	r := &RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Logger:      NewLogger(),
		RetryIf:     func(error) bool { return false },
	}

	err := r.Do(context.Background(), "test-op", func() error {
		calls++
		return context.DeadlineExceeded
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable error should stop after 1 call, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	r := &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		Logger:      NewLogger(),
	}

	err := r.Do(context.Background(), "test-op", func() error {
		calls++
		return context.DeadlineExceeded
	})

	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("attempts: got %d, want 3", calls)
	}
}
