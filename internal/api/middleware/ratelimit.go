package middleware

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const idleBucketTTL = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per (route group, client IP). Each group of the API
// spends its own budget, so a client polling patients does not starve its admin calls.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
}

func NewRateLimiter(perMinute int, burst int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1000
	}
	if burst <= 0 {
		burst = 200
	}
	return &RateLimiter{
		buckets: map[string]*bucket{},
		rps:     rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
	}
}

// Group returns middleware that charges requests to the named route group. Rejected requests
// get 429 with Retry-After set to the wait for the next token.
func (rl *RateLimiter) Group(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := rl.bucket(name + "|" + clientIP(r)).Reserve()
			if wait := res.Delay(); !res.OK() || wait > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.OK(), wait)))
				writeErr(w, http.StatusTooManyRequests, "RATE_LIMITED", "rate limit exceeded for "+name)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(ok bool, wait time.Duration) int {
	if !ok {
		return 60
	}
	return max(1, int(math.Ceil(wait.Seconds())))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	if b, ok := rl.buckets[key]; ok {
		b.lastSeen = now
		return b.limiter
	}
	for k, b := range rl.buckets {
		if now.Sub(b.lastSeen) > idleBucketTTL {
			delete(rl.buckets, k)
		}
	}
	lim := rate.NewLimiter(rl.rps, rl.burst)
	rl.buckets[key] = &bucket{limiter: lim, lastSeen: now}
	return lim
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":         false,
		"data":       nil,
		"error":      map[string]any{"code": code, "message": message},
		"pagination": nil,
	})
}
