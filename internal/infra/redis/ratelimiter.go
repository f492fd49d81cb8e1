package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sendwave/campaign-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultCapacityPerSec int64 = 10
	backoffStep                 = 10 * time.Millisecond
	backoffMax                  = 50 * time.Millisecond
	windowSeconds               = 1
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*SenderRateLimiter)(nil)

// SenderRateLimiter is a distributed per-sender, per-second rate limiter
// backed by Redis. The allowed budget is resolved per call so capacity
// throttling applies across every engine instance sharing the pool.
type SenderRateLimiter struct {
	client   *goredis.Client
	capacity ratelimit.CapacityFunc
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	script   *goredis.Script
}

func NewSenderRateLimiter(client *goredis.Client, capacity ratelimit.CapacityFunc) (*SenderRateLimiter, error) {
	return newSenderRateLimiter(client, capacity, time.Now, sleepWithContext)
}

func newSenderRateLimiter(
	client *goredis.Client,
	capacity ratelimit.CapacityFunc,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*SenderRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity == nil {
		return nil, fmt.Errorf("capacity func is required")
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &SenderRateLimiter{
		client:   client,
		capacity: capacity,
		now:      nowFn,
		sleep:    sleepFn,
		script:   allowScript,
	}, nil
}

func (r *SenderRateLimiter) Allow(ctx context.Context, senderID string) (bool, error) {
	if r == nil || r.client == nil || r.script == nil {
		return false, fmt.Errorf("rate limiter is not initialized")
	}

	senderID = strings.TrimSpace(senderID)
	if senderID == "" {
		return false, fmt.Errorf("sender id is required")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	perSec := int64(r.capacity(senderID))
	if perSec <= 0 {
		perSec = defaultCapacityPerSec
	}

	key := fmt.Sprintf("ratelimit:sender:%s:%d", senderID, r.now().UTC().Unix())
	result, err := r.script.Run(ctx, r.client, []string{key}, perSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}

	return result == 1, nil
}

func (r *SenderRateLimiter) Wait(ctx context.Context, senderID string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	backoff := backoffStep
	for {
		allowed, err := r.Allow(ctx, senderID)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, backoff); err != nil {
			return err
		}

		backoff += backoffStep
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
