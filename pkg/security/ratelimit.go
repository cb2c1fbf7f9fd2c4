package security

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Request throttling for the dispatch API. Keys arrive from the
// middleware already scoped to the caller ("staff:<id>" for
// authenticated requests, "ip:<addr>" otherwise), so one noisy
// dispatcher cannot starve the rest of the office.

// RateLimiter is the capability the HTTP middleware throttles through.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	AllowN(ctx context.Context, key string, n int) (bool, error)
	Reset(ctx context.Context, key string) error
	GetInfo(ctx context.Context, key string) (*RateLimitInfo, error)
}

// RateLimitInfo feeds the X-RateLimit-* response headers.
type RateLimitInfo struct {
	Limit     int           `json:"limit"`
	Remaining int           `json:"remaining"`
	Reset     time.Time     `json:"reset"`
	Window    time.Duration `json:"window"`
}

// MemoryRateLimiter throttles per key with in-process token buckets.
// It is the single-instance / test configuration; deployments with
// more than one API replica use the Redis limiter so the cap holds
// across the fleet.
type MemoryRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewMemoryRateLimiter(requestsPerSecond float64, burst int) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
	}
}

func (m *MemoryRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return m.bucket(key).Allow(), nil
}

func (m *MemoryRateLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	return m.bucket(key).AllowN(time.Now(), n), nil
}

func (m *MemoryRateLimiter) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.limiters, key)
	m.mu.Unlock()
	return nil
}

// GetInfo reports an approximation: a token bucket has no fixed
// window, so Remaining is derived from the tokens currently available.
func (m *MemoryRateLimiter) GetInfo(ctx context.Context, key string) (*RateLimitInfo, error) {
	tokens := int(m.bucket(key).Tokens())
	if tokens < 0 {
		tokens = 0
	}
	return &RateLimitInfo{
		Limit:     m.burst,
		Remaining: tokens,
		Reset:     time.Now().Add(time.Second),
		Window:    time.Second,
	}, nil
}

func (m *MemoryRateLimiter) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()
	limiter, ok := m.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(m.limit, m.burst)
		m.limiters[key] = limiter
	}
	return limiter
}

// RedisRateLimiter enforces a sliding-window cap shared by every API
// replica: each request lands as a timestamped member of a per-key
// sorted set, members older than the window are dropped, and the cap
// is the surviving cardinality.
type RedisRateLimiter struct {
	client    *redis.Client
	limit     int
	window    time.Duration
	keyPrefix string
}

func NewRedisRateLimiter(client *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client:    client,
		limit:     limit,
		window:    window,
		keyPrefix: "dispatch:ratelimit:",
	}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return r.AllowN(ctx, key, 1)
}

func (r *RedisRateLimiter) AllowN(ctx context.Context, key string, n int) (bool, error) {
	redisKey := r.keyPrefix + key
	now := time.Now()
	windowStart := now.Add(-r.window)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	for i := 0; i < n; i++ {
		member := now.Add(time.Duration(i) * time.Nanosecond).UnixNano()
		pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(member), Member: member})
	}
	pipe.Expire(ctx, redisKey, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline: %w", err)
	}

	// countCmd saw the set before this request's members landed.
	return int(countCmd.Val())+n <= r.limit, nil
}

func (r *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

func (r *RedisRateLimiter) GetInfo(ctx context.Context, key string) (*RateLimitInfo, error) {
	redisKey := r.keyPrefix + key
	now := time.Now()
	windowStart := now.Add(-r.window)

	count, err := r.client.ZCount(ctx, redisKey,
		strconv.FormatInt(windowStart.UnixNano(), 10), "+inf").Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit info: %w", err)
	}

	remaining := r.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return &RateLimitInfo{
		Limit:     r.limit,
		Remaining: remaining,
		Reset:     now.Add(r.window),
		Window:    r.window,
	}, nil
}
