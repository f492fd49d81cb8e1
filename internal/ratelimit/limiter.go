package ratelimit

import "context"

// RateLimiter bounds message throughput per sender.
type RateLimiter interface {
	Allow(ctx context.Context, senderID string) (bool, error)
	Wait(ctx context.Context, senderID string) error
}

// CapacityFunc resolves the current messages/second budget for a sender.
// Limiters consult it on every call so rule-driven capacity throttling
// applies without rebuilding buckets.
type CapacityFunc func(senderID string) int
