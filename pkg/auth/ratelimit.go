package auth

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	maxRateLimitSources = 1000
	rateLimiterTTL      = 5 * time.Minute
)

// RateLimiter limits webhook requests per source address
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// NewRateLimiter allows requestsPerMin per source with a burst of a tenth of that
func NewRateLimiter(requestsPerMin int) *RateLimiter {
	burst := requestsPerMin / 10
	if burst < 1 {
		burst = 1
	}

	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxRateLimitSources, nil, rateLimiterTTL),
		rate:     rate.Limit(float64(requestsPerMin) / 60.0),
		burst:    burst,
	}
}

// Allow consumes one request of the source's budget
func (rl *RateLimiter) Allow(source string) error {
	if !rl.limiter(source).Allow() {
		return fmt.Errorf("rate limit exceeded for %s", source)
	}
	return nil
}

// limiter returns the source's limiter, creating it on first use
func (rl *RateLimiter) limiter(source string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, ok := rl.limiters.Get(source)
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters.Add(source, limiter)
	}
	return limiter
}

// ClientIP extracts the client address of a request, honouring proxy headers
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
