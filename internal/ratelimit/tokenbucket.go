package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter is an in-process per-sender token bucket. Each sender
// gets its own bucket sized to its current capacity; capacity changes take
// effect on the next call. Suitable for single-node deployments; use the
// Redis limiter when multiple instances share a pool.
type TokenBucketLimiter struct {
	capacity CapacityFunc

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

var _ RateLimiter = (*TokenBucketLimiter)(nil)

func NewTokenBucketLimiter(capacity CapacityFunc) (*TokenBucketLimiter, error) {
	if capacity == nil {
		return nil, fmt.Errorf("capacity func is required")
	}
	return &TokenBucketLimiter{
		capacity: capacity,
		buckets:  make(map[string]*rate.Limiter),
	}, nil
}

func (l *TokenBucketLimiter) Allow(ctx context.Context, senderID string) (bool, error) {
	bucket, err := l.bucket(senderID)
	if err != nil {
		return false, err
	}
	return bucket.Allow(), nil
}

func (l *TokenBucketLimiter) Wait(ctx context.Context, senderID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	bucket, err := l.bucket(senderID)
	if err != nil {
		return err
	}
	return bucket.Wait(ctx)
}

func (l *TokenBucketLimiter) bucket(senderID string) (*rate.Limiter, error) {
	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return nil, fmt.Errorf("sender id is required")
	}

	perSec := l.capacity(senderID)
	if perSec <= 0 {
		perSec = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[senderID]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(perSec), perSec)
		l.buckets[senderID] = bucket
		return bucket, nil
	}

	if int(bucket.Limit()) != perSec {
		bucket.SetLimit(rate.Limit(perSec))
		bucket.SetBurst(perSec)
	}
	return bucket, nil
}
