package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipRateLimiter applies a per-client token bucket to the scan API
type ipRateLimiter struct {
	limiters map[string]*ipLimiterEntry
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newIPRateLimiter creates a limiter allowing requestsPerMin requests per
// client IP, with a burst of one minute's allowance.
func newIPRateLimiter(requestsPerMin int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*ipLimiterEntry),
		limit:    rate.Limit(float64(requestsPerMin) / 60.0),
		burst:    requestsPerMin,
	}
}

// Allow checks if a request from the given client IP is allowed
func (l *ipRateLimiter) Allow(clientIP string) bool {
	l.mu.Lock()
	entry, exists := l.limiters[clientIP]
	if !exists {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[clientIP] = entry
	}
	entry.lastSeen = time.Now()
	l.mu.Unlock()

	return entry.limiter.Allow()
}

// cleanupOldEntries removes limiters that have been idle for over an hour
func (l *ipRateLimiter) cleanupOldEntries() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-time.Hour)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

// startCleanupRoutine starts a background routine to clean up idle limiters
func (l *ipRateLimiter) startCleanupRoutine() {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for range ticker.C {
			l.cleanupOldEntries()
		}
	}()
}
