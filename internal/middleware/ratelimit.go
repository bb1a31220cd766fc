package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiter is a per-client token bucket sized in requests per minute.
// It fronts the /mcp endpoint; a zero or negative limit should be handled
// by the caller by not installing the middleware at all.
type RateLimiter struct {
	mu            sync.Mutex
	clients       map[string]*bucket
	perMin        int
	cleanupTicker *time.Ticker
	stopCh        chan struct{}
	stopOnce      sync.Once
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewRateLimiter builds a limiter allowing perMin requests per client IP
// per minute and starts its stale-entry sweeper.
func NewRateLimiter(perMin int) *RateLimiter {
	rl := &RateLimiter{
		clients:       make(map[string]*bucket),
		perMin:        perMin,
		cleanupTicker: time.NewTicker(5 * time.Minute),
		stopCh:        make(chan struct{}),
	}
	go rl.cleanup()
	return rl
}

// Middleware wraps a handler with the limit. Rejected requests get a JSON
// 429 with a Retry-After hint.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"Rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientKey buckets by remote IP so every port of the same client shares
// a budget.
func clientKey(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (rl *RateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.clients[key]
	if !ok {
		rl.clients[key] = &bucket{tokens: rl.perMin - 1, lastRefill: now}
		return true
	}

	refill := int(now.Sub(b.lastRefill).Minutes() * float64(rl.perMin))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > rl.perMin {
			b.tokens = rl.perMin
		}
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// retryAfterSeconds is the time until one token refills.
func (rl *RateLimiter) retryAfterSeconds() int {
	secs := 60 / rl.perMin
	if secs < 1 {
		secs = 1
	}
	return secs
}

// cleanup drops buckets idle for ten minutes.
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.stopCh:
			return
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, b := range rl.clients {
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(rl.clients, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Stop halts the sweeper.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTicker.Stop()
		close(rl.stopCh)
	})
}
