package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/sentinel-chat/internal/config"
)

// RateLimiter hands out one token bucket per client IP
type RateLimiter struct {
	mu      sync.Mutex
	enabled bool
	limit   rate.Limit
	burst   int
	clients map[string]*visitor
	now     func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	r := &RateLimiter{
		clients: make(map[string]*visitor),
		now:     time.Now,
	}
	r.apply(cfg)
	return r
}

func (r *RateLimiter) apply(cfg config.RateLimitConfig) {
	r.enabled = cfg.Enabled && cfg.RequestsPerMin > 0
	r.limit = rate.Limit(float64(cfg.RequestsPerMin) / 60.0)
	r.burst = cfg.Burst
	if r.burst <= 0 {
		r.burst = cfg.RequestsPerMin
	}
}

// Update changes the limits for existing and future clients
func (r *RateLimiter) Update(cfg config.RateLimitConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.apply(cfg)
	now := r.now()
	for _, v := range r.clients {
		v.limiter.SetLimitAt(now, r.limit)
		v.limiter.SetBurstAt(now, r.burst)
	}
}

// Allow checks if a request from the given client IP is allowed
func (r *RateLimiter) Allow(clientIP string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.enabled {
		return true
	}

	now := r.now()
	v, ok := r.clients[clientIP]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[clientIP] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// RetryAfter is how long a rejected client should wait
func (r *RateLimiter) RetryAfter() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.limit <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(r.limit))
}

// CleanupOldBuckets removes clients idle for longer than maxIdle
func (r *RateLimiter) CleanupOldBuckets(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxIdle)
	removed := 0
	for ip, v := range r.clients {
		if v.lastSeen.Before(cutoff) {
			delete(r.clients, ip)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine prunes idle clients until stop is closed
func (r *RateLimiter) StartCleanupRoutine(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				r.CleanupOldBuckets(time.Hour)
			case <-stop:
				return
			}
		}
	}()
}
