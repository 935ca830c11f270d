package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// tokenBucket is a simple refilling bucket for one client IP.
type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// IPRateLimiter limits requests per client IP. Buckets for idle IPs
// are swept periodically so the map does not grow without bound.
type IPRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64 // tokens per second
	burst   float64
}

// NewIPRateLimiter creates a limiter allowing requestsPerMinute with
// the given burst. Zero or negative rates disable limiting.
func NewIPRateLimiter(requestsPerMinute, burst int) *IPRateLimiter {
	if requestsPerMinute <= 0 {
		return &IPRateLimiter{}
	}
	if burst <= 0 {
		burst = requestsPerMinute
	}
	l := &IPRateLimiter{
		buckets: make(map[string]*tokenBucket),
		rate:    float64(requestsPerMinute) / 60.0,
		burst:   float64(burst),
	}
	go l.sweep()
	return l
}

// Allow reports whether a request from the given IP may proceed.
func (l *IPRateLimiter) Allow(ip string) bool {
	if l.buckets == nil {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	bucket, ok := l.buckets[ip]
	if !ok {
		l.buckets[ip] = &tokenBucket{tokens: l.burst - 1, lastRefill: now}
		return true
	}

	bucket.tokens += now.Sub(bucket.lastRefill).Seconds() * l.rate
	if bucket.tokens > l.burst {
		bucket.tokens = l.burst
	}
	bucket.lastRefill = now

	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// sweep drops buckets idle for more than ten minutes.
func (l *IPRateLimiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		l.mu.Lock()
		cutoff := time.Now().Add(-10 * time.Minute)
		for ip, bucket := range l.buckets {
			if bucket.lastRefill.Before(cutoff) {
				delete(l.buckets, ip)
			}
		}
		l.mu.Unlock()
	}
}

// rateLimitMiddleware rejects clients over their per-IP budget.
func rateLimitMiddleware(limiter *IPRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// bodyLimitMiddleware caps the readable request body size.
func bodyLimitMiddleware(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
