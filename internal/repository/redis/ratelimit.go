package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	rateLimitPrefix = "ratelimit:"
)

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter enforces a fixed per-minute window per principal and action
type RateLimiter struct {
	client            *Client
	requestsPerMinute int
	burst             int
	now               func() time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *Client, requestsPerMinute, burst int) *RateLimiter {
	return &RateLimiter{
		client:            client,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		now:               time.Now,
	}
}

func rateLimitKey(scope, principal string, window time.Time) string {
	return fmt.Sprintf("%s%s:%s:%d", rateLimitPrefix, scope, principal, window.Unix())
}

// Allow counts one request by principal against scope
func (r *RateLimiter) Allow(ctx context.Context, scope, principal string) (Decision, error) {
	now := r.now()
	windowStart := now.Truncate(time.Minute)
	key := rateLimitKey(scope, principal, windowStart)

	pipe := r.client.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	limit := int64(r.requestsPerMinute + r.burst)
	count := incrCmd.Val()
	return Decision{
		Allowed:   count <= limit,
		Remaining: int(max(limit-count, 0)),
		ResetAt:   windowStart.Add(time.Minute),
	}, nil
}

// Reset clears the current window of principal in scope
func (r *RateLimiter) Reset(ctx context.Context, scope, principal string) error {
	key := rateLimitKey(scope, principal, r.now().Truncate(time.Minute))
	return r.client.rdb.Del(ctx, key).Err()
}
