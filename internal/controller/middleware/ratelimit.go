package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"scenepipe/pkg/api"

	"golang.org/x/time/rate"
)

const (
	defaultLimiterTTL = 5 * time.Minute
	sweepEvery        = 1024
)

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration
	now   func() time.Time

	limiters sync.Map // client ip -> *cachedLimiter
	requests atomic.Uint64
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithTTL sets how long an idle client's limiter is kept.
func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// perSecond <= 0 means unlimited.
func NewRateLimiter(perSecond float64, burst int, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limit: rate.Limit(perSecond),
		burst: max(burst, 1),
		ttl:   defaultLimiterTTL,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware rejects requests over the client's limit with 429.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// RateLimit=0 means unlimited
			if rl.limit > 0 && !rl.limiterFor(ClientIP(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Too Many Requests",
					Code:  strconv.Itoa(http.StatusTooManyRequests),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt atomic.Int64 // unix nanos
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	now := rl.now()
	if rl.requests.Add(1)%sweepEvery == 0 {
		rl.sweep(now)
	}

	if v, ok := rl.limiters.Load(ip); ok {
		cached := v.(*cachedLimiter)
		if now.UnixNano() < cached.expiresAt.Load() {
			cached.expiresAt.Store(now.Add(rl.ttl).UnixNano())
			return cached.limiter
		}
		// expired, need to create new
	}

	cached := &cachedLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	cached.expiresAt.Store(now.Add(rl.ttl).UnixNano())
	rl.limiters.Store(ip, cached)
	return cached.limiter
}

// sweep drops limiters of clients that have been idle longer than the TTL.
func (rl *RateLimiter) sweep(now time.Time) {
	rl.limiters.Range(func(key, v any) bool {
		if now.UnixNano() >= v.(*cachedLimiter).expiresAt.Load() {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
