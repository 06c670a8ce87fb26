package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL = 10 * time.Minute
	limiterMaxIPs  = 10000
)

// ipLimiter keeps one token bucket per client address.
type ipLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// newIPLimiter returns nil when rps is not positive; a nil limiter allows
// everything.
func newIPLimiter(rps float64, burst int) *ipLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ipLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether a request from remoteAddr may proceed.
func (l *ipLimiter) Allow(remoteAddr string) bool {
	if l == nil {
		return true
	}
	host := hostOf(remoteAddr)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[host]
	if !ok {
		if len(l.buckets) >= limiterMaxIPs {
			l.evictIdle(now)
		}
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[host] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// evictIdle drops buckets unused for limiterIdleTTL, or all of them if
// none are idle. Caller holds l.mu.
func (l *ipLimiter) evictIdle(now time.Time) {
	cutoff := now.Add(-limiterIdleTTL)
	for host, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, host)
		}
	}
	if len(l.buckets) >= limiterMaxIPs {
		clear(l.buckets)
	}
}

// authRateLimiter tracks failed auth attempts per IP to slow brute forcing.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time)}
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(host, time.Now())
	return len(recent) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	host := hostOf(remoteAddr)

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.failures[host]; !exists && len(l.failures) >= authRateMaxIPs {
		now := time.Now()
		for ip := range l.failures {
			l.prune(ip, now)
		}
		if len(l.failures) >= authRateMaxIPs {
			clear(l.failures)
		}
	}
	l.failures[host] = append(l.failures[host], time.Now())
}

// prune drops failures older than the window and returns what is left.
// Caller holds l.mu.
func (l *authRateLimiter) prune(host string, now time.Time) []time.Time {
	cutoff := now.Add(-authRateWindow)
	recent := l.failures[host]
	filtered := recent[:0]
	for _, t := range recent {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		delete(l.failures, host)
		return nil
	}
	l.failures[host] = filtered
	return filtered
}
