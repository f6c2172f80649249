package accesscontrol

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter limits login attempts per caller key (spec §4.3:
// "failures increment a rate counter and eventually yield RateLimited").
type RateLimiter interface {
	// Allow reports whether key may attempt another login.
	Allow(ctx context.Context, key string) (bool, error)
	// RecordFailure increments the failure counter for key.
	RecordFailure(ctx context.Context, key string) error
	// Reset clears the counter for key on successful login.
	Reset(ctx context.Context, key string) error
}

// RedisRateLimiter implements RateLimiter with Redis INCR+EXPIRE, grounded
// on the corpus's auth.RateLimiter.
type RedisRateLimiter struct {
	redis      *redis.Client
	maxAttempt int
	window     time.Duration
}

// NewRedisRateLimiter creates a Redis-backed rate limiter. maxAttempt is
// the number of failures allowed per key within window.
func NewRedisRateLimiter(rdb *redis.Client, maxAttempt int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{redis: rdb, maxAttempt: maxAttempt, window: window}
}

func (rl *RedisRateLimiter) key(k string) string { return "login_ratelimit:" + k }

func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := rl.redis.Get(ctx, rl.key(key)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("checking rate limit: %w", err)
	}
	return count < rl.maxAttempt, nil
}

func (rl *RedisRateLimiter) RecordFailure(ctx context.Context, key string) error {
	k := rl.key(key)
	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording rate limit failure: %w", err)
	}
	if incr.Val() == 1 {
		rl.redis.Expire(ctx, k, rl.window)
	}
	return nil
}

func (rl *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// InProcessRateLimiter is the fallback used when Redis is not configured
// (single-instance/dev deployments). Not safe across multiple processes.
type InProcessRateLimiter struct {
	mu         sync.Mutex
	maxAttempt int
	window     time.Duration
	counts     map[string]*counterEntry
}

type counterEntry struct {
	count   int
	resetAt time.Time
}

// NewInProcessRateLimiter creates an in-memory rate limiter.
func NewInProcessRateLimiter(maxAttempt int, window time.Duration) *InProcessRateLimiter {
	return &InProcessRateLimiter{maxAttempt: maxAttempt, window: window, counts: make(map[string]*counterEntry)}
}

func (rl *InProcessRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e := rl.counts[key]
	if e == nil || time.Now().After(e.resetAt) {
		return true, nil
	}
	return e.count < rl.maxAttempt, nil
}

func (rl *InProcessRateLimiter) RecordFailure(_ context.Context, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	e := rl.counts[key]
	if e == nil || time.Now().After(e.resetAt) {
		e = &counterEntry{resetAt: time.Now().Add(rl.window)}
		rl.counts[key] = e
	}
	e.count++
	return nil
}

func (rl *InProcessRateLimiter) Reset(_ context.Context, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.counts, key)
	return nil
}
