package security

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRateLimiter_EnforcesBurst(t *testing.T) {
	// Negligible refill rate: the burst is the whole budget.
	limiter := NewMemoryRateLimiter(0.0001, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "staff:abc")
		require.NoError(t, err)
		assert.True(t, ok, "request %d within burst", i)
	}
	ok, err := limiter.Allow(ctx, "staff:abc")
	require.NoError(t, err)
	assert.False(t, ok, "burst exhausted")

	// Other keys have their own bucket.
	ok, err = limiter.Allow(ctx, "staff:def")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryRateLimiter_ResetRestoresBudget(t *testing.T) {
	limiter := NewMemoryRateLimiter(0.0001, 1)
	ctx := context.Background()

	ok, _ := limiter.Allow(ctx, "ip:10.0.0.1")
	assert.True(t, ok)
	ok, _ = limiter.Allow(ctx, "ip:10.0.0.1")
	assert.False(t, ok)

	require.NoError(t, limiter.Reset(ctx, "ip:10.0.0.1"))
	ok, _ = limiter.Allow(ctx, "ip:10.0.0.1")
	assert.True(t, ok)
}

func TestMemoryRateLimiter_ConcurrentKeys(t *testing.T) {
	limiter := NewMemoryRateLimiter(100, 100)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%4))
			for j := 0; j < 50; j++ {
				_, _ = limiter.Allow(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	info, err := limiter.GetInfo(ctx, "a")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, info.Remaining, 0)
}
