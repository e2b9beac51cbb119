package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// ──────────────────────────────────────────────────────────────────────
// Keyed Token Bucket Rate Limiter
//
// Each key (client IP or tenant id) gets its own rate.Limiter with a
// configurable per-minute rate and burst. When the bucket is empty the
// request receives HTTP 429 with a Retry-After header in whole seconds.
//
// Sweep drops limiters idle for more than cleanupIdleDuration so transient
// clients do not grow the map without bound.
// ──────────────────────────────────────────────────────────────────────

const cleanupIdleDuration = 10 * time.Minute

type keyedBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter holds per-key state.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*keyedBucket
}

// NewRateLimiter allows ratePerMin requests per minute per key, with a burst
// capacity of burst requests.
func NewRateLimiter(ratePerMin, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(ratePerMin) / 60.0),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*keyedBucket),
	}
}

// Allow takes one token for key. When none is available it returns false and
// the wait until the next token.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &keyedBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = bucket
	}
	bucket.lastSeen = now
	rl.mu.Unlock()

	r := bucket.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Len reports how many keys are tracked.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Sweep removes buckets idle since before cutoff.
func (rl *RateLimiter) Sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
		}
	}
}

// RunCleanup sweeps idle buckets every cleanupIdleDuration until ctx is done.
func (rl *RateLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupIdleDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Sweep(rl.now().Add(-cleanupIdleDuration))
		}
	}
}

// IPMiddleware enforces the limit per client IP.
func (rl *RateLimiter) IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := rl.Allow(c.ClientIP())
		if !allowed {
			c.Header("Retry-After", retryAfterSeconds(retryAfter))
			abortJSON(c, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded")
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
