package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL       = 10 * time.Minute
	defaultMaxConcurrent = 10
)

// Rate limit rejection reasons.
const (
	ReasonRateLimited   = "rate limit exceeded"
	ReasonTooConcurrent = "too many concurrent requests"
)

type clientLimiter struct {
	limiter    *rate.Limiter
	concurrent int
	lastSeen   time.Time
}

// ClientRateLimiter applies a token bucket and a concurrency cap per identity.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	maxConcurrent     int
	clients           map[string]*clientLimiter
	now               func() time.Time
}

// NewClientRateLimiter creates a rate limiter with default limits
func NewClientRateLimiter() *ClientRateLimiter {
	return NewClientRateLimiterWithLimits(60, defaultMaxConcurrent)
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits.
// A non-positive requestsPerMinute disables the rate check.
func NewClientRateLimiterWithLimits(requestsPerMinute, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		maxConcurrent:     maxConcurrent,
		clients:           make(map[string]*clientLimiter),
		now:               time.Now,
	}
}

// bucketLocked returns the token bucket shape for the current limits.
func (r *ClientRateLimiter) bucketLocked() (rate.Limit, int) {
	if r.requestsPerMinute <= 0 {
		return rate.Inf, 0
	}
	return rate.Every(time.Minute / time.Duration(r.requestsPerMinute)), r.requestsPerMinute
}

func (r *ClientRateLimiter) clientLocked(key string, now time.Time) *clientLimiter {
	c, ok := r.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.bucketLocked())}
		r.clients[key] = c
	}
	c.lastSeen = now
	return c
}

// Acquire admits a request for key. Every admitted request must be paired with
// Release.
func (r *ClientRateLimiter) Acquire(key string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)
	c := r.clientLocked(key, now)

	if r.maxConcurrent > 0 && c.concurrent >= r.maxConcurrent {
		return false, ReasonTooConcurrent
	}
	if !c.limiter.AllowN(now, 1) {
		return false, ReasonRateLimited
	}

	c.concurrent++
	return true, ""
}

// Release records the end of a request
func (r *ClientRateLimiter) Release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok && c.concurrent > 0 {
		c.concurrent--
		c.lastSeen = r.now()
	}
}

// Limits returns the configured requests per minute and concurrency cap.
func (r *ClientRateLimiter) Limits() (requestsPerMinute, maxConcurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestsPerMinute, r.maxConcurrent
}

// UpdateLimits changes the limits. Idle identities start over with a fresh
// bucket and identities with requests in flight are re-rated in place.
func (r *ClientRateLimiter) UpdateLimits(requestsPerMinute, maxConcurrent int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestsPerMinute = requestsPerMinute
	r.maxConcurrent = maxConcurrent
	limit, burst := r.bucketLocked()
	now := r.now()
	for key, c := range r.clients {
		if c.concurrent == 0 {
			delete(r.clients, key)
			continue
		}
		c.limiter.SetLimitAt(now, limit)
		c.limiter.SetBurstAt(now, burst)
	}
}

// GetStats returns the in-flight count for key.
func (r *ClientRateLimiter) GetStats(key string) (concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[key]; ok {
		return c.concurrent
	}
	return 0
}

func (r *ClientRateLimiter) pruneLocked(now time.Time) {
	for key, c := range r.clients {
		if c.concurrent == 0 && now.Sub(c.lastSeen) > limiterIdleTTL {
			delete(r.clients, key)
		}
	}
}
