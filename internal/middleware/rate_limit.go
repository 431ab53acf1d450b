package middleware

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/synapkit/synapd/internal/apierrors"
)

// RateLimiter implements per-source token bucket admission control.
// Each source identity (client IP) gets its own bucket; buckets refill
// continuously at the configured rate up to the burst capacity.
type RateLimiter struct {
	mu            sync.Mutex
	buckets       map[string]*bucket
	perSecond     float64
	burst         float64
	idleThreshold time.Duration
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	lastSeen   time.Time
}

// NewRateLimiter creates a rate limiter. Zero or negative rate and burst
// clamp to 1 so misconfiguration degrades service instead of crashing it.
func NewRateLimiter(perSecond, burst int) *RateLimiter {
	if perSecond < 1 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		buckets:       make(map[string]*bucket),
		perSecond:     float64(perSecond),
		burst:         float64(burst),
		idleThreshold: 10 * time.Minute,
	}
}

// Check reports whether source may proceed and consumes a token if so.
// The last-seen timestamp is updated before the bucket test so a
// concurrent Cleanup never evicts a source that is actively checking.
func (rl *RateLimiter) Check(source string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, exists := rl.buckets[source]
	if !exists {
		b = &bucket{tokens: rl.burst, lastRefill: now}
		rl.buckets[source] = b
	}
	b.lastSeen = now

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * rl.perSecond
	if b.tokens > rl.burst {
		b.tokens = rl.burst
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Cleanup evicts sources idle longer than the threshold. Staleness is
// judged by last-seen age only, so surviving buckets keep their tokens.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.idleThreshold)
	for source, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, source)
		}
	}
}

// CleanupLoop runs Cleanup on the given interval until stop is closed.
func (rl *RateLimiter) CleanupLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// TrackedSources returns the number of tracked source identities.
func (rl *RateLimiter) TrackedSources() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimit rejects requests with 429 once the client's bucket is empty.
// onReject, if non-nil, is invoked for every rejected request (metrics).
func RateLimit(rl *RateLimiter, onReject func(source string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		source := c.ClientIP()
		if !rl.Check(source) {
			if onReject != nil {
				onReject(source)
			}
			apierrors.Error(c, apierrors.CodeRateLimited)
			c.Abort()
			return
		}
		c.Next()
	}
}
