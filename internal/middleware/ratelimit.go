package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig configures a process-wide token bucket limiter.
type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

// RateLimitMiddleware rejects requests over the configured rate with a
// 429 in the standard response envelope.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	bucket := newTokenBucket(cfg.RPS, cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !bucket.take() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = fmt.Fprint(w, `{"success":false,"error":{"kind":"rate_limit","message":"rate limit exceeded"}}`)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenBucket refills continuously at rate tokens per second up to
// burst. A non-positive rate or burst disables limiting entirely.
type tokenBucket struct {
	mu       sync.Mutex
	rate     float64
	burst    float64
	tokens   float64
	refilled time.Time
}

func newTokenBucket(rps float64, burst int) *tokenBucket {
	b := &tokenBucket{refilled: time.Now()}
	if rps > 0 && burst > 0 {
		b.rate = rps
		b.burst = float64(burst)
		b.tokens = float64(burst)
	}
	return b
}

func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.rate <= 0 || b.burst <= 0 {
		return true
	}
	b.refill(time.Now())
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.refilled).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.burst, b.tokens+elapsed*b.rate)
	b.refilled = now
}
