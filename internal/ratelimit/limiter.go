// Package ratelimit enforces the per-owner ingress rate limit on
// deployment creation (spec §6.1: 100 req/min per owner_hash).
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// PerOwnerLimiter hands out an independent token bucket per owner
// hash, created lazily on first use and never explicitly evicted —
// owners are bounded by the request volume the system actually sees.
type PerOwnerLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// New creates a limiter allowing perMinute requests per minute per
// owner, with a burst equal to perMinute (a full minute's budget can
// be spent immediately).
func New(perMinute int) *PerOwnerLimiter {
	return &PerOwnerLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(float64(perMinute) / 60.0),
		burst:    perMinute,
	}
}

// Allow reports whether ownerHash may proceed right now, consuming a
// token if so.
func (l *PerOwnerLimiter) Allow(ownerHash string) bool {
	return l.limiterFor(ownerHash).Allow()
}

// Reserve returns the duration the caller should wait before retrying,
// for use in a Retry-After header, when Allow has already returned
// false for ownerHash.
func (l *PerOwnerLimiter) Reserve(ownerHash string) time.Duration {
	r := l.limiterFor(ownerHash).Reserve()
	defer r.Cancel()
	return r.Delay()
}

func (l *PerOwnerLimiter) limiterFor(ownerHash string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[ownerHash]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[ownerHash] = lim
	}
	return lim
}
