package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RateLimiter implements a per-IP sliding window rate limiter. "Client"
// here is the network peer; it is unrelated to visitor counting.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientWindow
	limit   int
	window  time.Duration
	enabled bool
}

type clientWindow struct {
	requests []time.Time
}

// NewRateLimiter creates a rate limiter with the given limit per window.
// If limit is 0, rate limiting is disabled.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clients: make(map[string]*clientWindow),
		limit:   limit,
		window:  window,
		enabled: limit > 0,
	}
	if rl.enabled {
		go rl.cleanup()
	}
	return rl
}

// Allow checks if the given IP is allowed to make a request.
func (rl *RateLimiter) Allow(ip string) bool {
	if !rl.enabled {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	c, exists := rl.clients[ip]
	if !exists {
		c = &clientWindow{}
		rl.clients[ip] = c
	}
	c.requests = pruneBefore(c.requests, cutoff)

	if len(c.requests) >= rl.limit {
		return false
	}
	c.requests = append(c.requests, now)
	return true
}

// cleanup removes stale clients periodically.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		cutoff := time.Now().Add(-rl.window)
		for ip, c := range rl.clients {
			c.requests = pruneBefore(c.requests, cutoff)
			if len(c.requests) == 0 {
				delete(rl.clients, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	valid := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}

// extractIP extracts the client IP from the request.
// It respects X-Forwarded-For and X-Real-IP headers for proxied requests.
func extractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
