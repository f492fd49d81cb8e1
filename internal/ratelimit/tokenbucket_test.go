package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestAllowBoundsBurstToCapacity(t *testing.T) {
	t.Parallel()

	limiter, err := NewTokenBucketLimiter(func(string) int { return 5 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	allowed := 0
	for i := 0; i < 10; i++ {
		ok, err := limiter.Allow(context.Background(), "sender-a")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if ok {
			allowed++
		}
	}
	if allowed != 5 {
		t.Errorf("expected 5 allowed in burst, got %d", allowed)
	}
}

func TestBucketsAreIndependentPerSender(t *testing.T) {
	t.Parallel()

	limiter, err := NewTokenBucketLimiter(func(string) int { return 1 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ok, _ := limiter.Allow(context.Background(), "sender-a"); !ok {
		t.Fatal("expected first sender-a call allowed")
	}
	if ok, _ := limiter.Allow(context.Background(), "sender-a"); ok {
		t.Error("expected sender-a drained")
	}
	if ok, _ := limiter.Allow(context.Background(), "sender-b"); !ok {
		t.Error("expected sender-b unaffected by sender-a usage")
	}
}

func TestCapacityChangeResizesBucket(t *testing.T) {
	t.Parallel()

	capacity := 2
	limiter, err := NewTokenBucketLimiter(func(string) int { return capacity })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Prime the bucket at the initial capacity.
	if ok, _ := limiter.Allow(context.Background(), "sender-a"); !ok {
		t.Fatal("expected initial call allowed")
	}

	// Throttling to 1 msg/s takes effect on the next call.
	capacity = 1
	time.Sleep(1100 * time.Millisecond)

	allowed := 0
	for i := 0; i < 3; i++ {
		if ok, _ := limiter.Allow(context.Background(), "sender-a"); ok {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("expected burst of 1 after throttle, got %d", allowed)
	}
}

func TestWaitHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	limiter, err := NewTokenBucketLimiter(func(string) int { return 1 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Drain the bucket, then wait with an already-expired context.
	if err := limiter.Wait(context.Background(), "sender-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := limiter.Wait(ctx, "sender-a"); err == nil {
		t.Error("expected error from canceled context")
	}
}

func TestRejectsEmptySenderID(t *testing.T) {
	t.Parallel()

	limiter, err := NewTokenBucketLimiter(func(string) int { return 1 })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := limiter.Allow(context.Background(), "  "); err == nil {
		t.Error("expected error for empty sender id")
	}
	if err := limiter.Wait(context.Background(), ""); err == nil {
		t.Error("expected error for empty sender id")
	}
	if _, err := NewTokenBucketLimiter(nil); err == nil {
		t.Error("expected error for nil capacity func")
	}
}
