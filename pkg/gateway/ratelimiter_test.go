package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_Acquire(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(10, 5)

		for i := 0; i < 5; i++ {
			allowed, reason := limiter.Acquire("user:a")
			assert.True(t, allowed)
			assert.Empty(t, reason)
		}
	})

	t.Run("should reject when concurrent limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(100, 3)

		for i := 0; i < 3; i++ {
			allowed, _ := limiter.Acquire("user:a")
			assert.True(t, allowed)
		}

		allowed, reason := limiter.Acquire("user:a")
		assert.False(t, allowed)
		assert.Equal(t, ReasonTooConcurrent, reason)

		limiter.Release("user:a")
		allowed, _ = limiter.Acquire("user:a")
		assert.True(t, allowed)
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(2, 10)
		now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		for i := 0; i < 2; i++ {
			allowed, _ := limiter.Acquire("user:a")
			assert.True(t, allowed)
			limiter.Release("user:a")
		}

		allowed, reason := limiter.Acquire("user:a")
		assert.False(t, allowed)
		assert.Equal(t, ReasonRateLimited, reason)

		now = now.Add(31 * time.Second)
		allowed, _ = limiter.Acquire("user:a")
		assert.True(t, allowed)
	})

	t.Run("should keep identities independent", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(1, 10)

		allowed, _ := limiter.Acquire("user:a")
		assert.True(t, allowed)
		allowed, _ = limiter.Acquire("user:b")
		assert.True(t, allowed)
		allowed, _ = limiter.Acquire("user:a")
		assert.False(t, allowed)
	})

	t.Run("should not limit rate when disabled", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(0, 100)
		for i := 0; i < 50; i++ {
			allowed, _ := limiter.Acquire("user:a")
			assert.True(t, allowed)
		}
	})
}

func TestClientRateLimiter_Stats(t *testing.T) {
	limiter := NewClientRateLimiter()

	limiter.Acquire("user:a")
	limiter.Acquire("user:a")
	assert.Equal(t, 2, limiter.GetStats("user:a"))

	limiter.Release("user:a")
	assert.Equal(t, 1, limiter.GetStats("user:a"))
	assert.Equal(t, 0, limiter.GetStats("user:unknown"))
}

func TestClientRateLimiter_Prune(t *testing.T) {
	limiter := NewClientRateLimiterWithLimits(10, 10)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Acquire("user:idle")
	limiter.Release("user:idle")

	now = now.Add(limiterIdleTTL + time.Second)
	limiter.Acquire("user:other")

	limiter.mu.Lock()
	_, ok := limiter.clients["user:idle"]
	limiter.mu.Unlock()
	assert.False(t, ok)
}

func TestClientRateLimiter_UpdateLimits(t *testing.T) {
	t.Run("should apply new limits to idle and busy identities", func(t *testing.T) {
		limiter := NewClientRateLimiterWithLimits(10, 5)
		now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
		limiter.now = func() time.Time { return now }

		allowed, _ := limiter.Acquire("user:busy")
		assert.True(t, allowed)
		allowed, _ = limiter.Acquire("user:idle")
		assert.True(t, allowed)
		limiter.Release("user:idle")

		limiter.UpdateLimits(1, 1)
		rpm, maxConcurrent := limiter.Limits()
		assert.Equal(t, 1, rpm)
		assert.Equal(t, 1, maxConcurrent)

		allowed, reason := limiter.Acquire("user:busy")
		assert.False(t, allowed)
		assert.Equal(t, ReasonTooConcurrent, reason)
		assert.Equal(t, 1, limiter.GetStats("user:busy"))

		for _, key := range []string{"user:busy", "user:idle"} {
			if key == "user:busy" {
				limiter.Release(key)
			}
			allowed, _ = limiter.Acquire(key)
			assert.True(t, allowed, key)
			limiter.Release(key)

			allowed, reason = limiter.Acquire(key)
			assert.False(t, allowed, key)
			assert.Equal(t, ReasonRateLimited, reason, key)
		}
	})
}
