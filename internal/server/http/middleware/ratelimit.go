// Package middleware provides HTTP middleware for the control API.
package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Rate limiter defaults. Control commands are low-frequency by nature; the
// limiter exists to stop a misbehaving script from flooding a session.
const (
	DefaultMaxRequests = 30
	DefaultWindow      = 1 * time.Minute
	cleanupInterval    = 5 * time.Minute
)

// RateLimiter is a sliding-window limiter keyed by client IP.
type RateLimiter struct {
	maxRequests int
	window      time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
	done    chan struct{}
}

type bucket struct {
	timestamps []time.Time
	lastAccess time.Time
}

// NewRateLimiter creates a rate limiter. Non-positive arguments fall back to
// the defaults.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	if maxRequests <= 0 {
		maxRequests = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	r := &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		buckets:     make(map[string]*bucket),
		done:        make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Allow reports whether a request from key is within budget and records it.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	b, ok := r.buckets[key]
	if !ok {
		b = &bucket{timestamps: make([]time.Time, 0, r.maxRequests)}
		r.buckets[key] = b
	}

	valid := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}
	b.timestamps = valid
	b.lastAccess = now

	if len(b.timestamps) >= r.maxRequests {
		return false
	}
	b.timestamps = append(b.timestamps, now)
	return true
}

// Remaining returns the request budget left for key.
func (r *RateLimiter) Remaining(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[key]
	if !ok {
		return r.maxRequests
	}

	cutoff := time.Now().Add(-r.window)
	count := 0
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			count++
		}
	}
	if count >= r.maxRequests {
		return 0
	}
	return r.maxRequests - count
}

// Close stops the cleanup goroutine.
func (r *RateLimiter) Close() {
	close(r.done)
}

func (r *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.cleanup()
		}
	}
}

func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.window * 2)
	for key, b := range r.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(r.buckets, key)
		}
	}
}

// clientKey derives the limiter key from the request. Proxy headers are not
// trusted; the daemon binds to loopback and sees real peer addresses.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RateLimit wraps a handler with per-client-IP rate limiting.
func RateLimit(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientKey(r)

			if !limiter.Allow(key) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "60")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"detail":"rate limit exceeded"}`))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.maxRequests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Remaining(key)))
			next.ServeHTTP(w, r)
		})
	}
}
