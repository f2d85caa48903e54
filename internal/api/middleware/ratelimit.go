package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/dialq/internal/api/response"
	"github.com/kiranshivaraju/dialq/internal/cache"
)

const defaultRequestsPerMinute = 60

// Counter is the part of the cache rate limiting needs.
type Counter interface {
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RateLimit provides fixed-window rate limiting via Redis.
type RateLimit struct {
	counter        Counter
	requestsPerMin int
}

// NewRateLimit creates a new RateLimit middleware.
func NewRateLimit(c Counter, requestsPerMin int) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	return &RateLimit{counter: c, requestsPerMin: requestsPerMin}
}

// Limit applies rate limiting based on the subject set by auth middleware.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, ok := getSubject(r)
		if !ok {
			// No subject means auth middleware didn't run; pass through
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.counter.IncrWithExpiry(r.Context(), cache.RateLimitKey(subject), time.Minute)
		if err != nil {
			// On Redis error, allow the request (fail open)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Minute).Unix()))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", "60")
			response.Error(w, http.StatusTooManyRequests,
				"RATE_LIMIT_EXCEEDED", "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
