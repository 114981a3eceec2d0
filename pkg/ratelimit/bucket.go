// Package ratelimit provides process-local token-bucket rate limiting and
// in-flight concurrency limiting, keyed by arbitrary strings (userId, IP,
// or a composite of the two).
//
// Both limiters are process-wide, in-memory, and make no cross-replica
// guarantee — see spec §9 "Rate-limit counters across replicas".
package ratelimit

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a keyed token-bucket rate limiter built on golang.org/x/time/rate.
// Each key gets its own *rate.Limiter with the configured capacity (burst)
// and refill rate; buckets are created lazily on first use and are never
// evicted — callers with unbounded key spaces (e.g. per-IP) should wrap
// Limiter with their own LRU if needed.
type Limiter struct {
	capacity     float64
	refillPerSec float64

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLimiter creates a token-bucket limiter with the given per-bucket
// capacity and refill rate (tokens/second).
func NewLimiter(capacity float64, refillPerSec float64) *Limiter {
	return &Limiter{
		capacity:     capacity,
		refillPerSec: refillPerSec,
		buckets:      make(map[string]*rate.Limiter),
	}
}

// NewPerMinuteLimiter builds a limiter whose capacity equals the per-minute
// rate and whose refill is rate/60 tokens per second — the configuration
// shape every bucket in spec §4.1 uses.
func NewPerMinuteLimiter(perMinute float64) *Limiter {
	return NewLimiter(perMinute, perMinute/60.0)
}

func (l *Limiter) getBucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.refillPerSec), int(math.Max(1, math.Round(l.capacity))))
		l.buckets[key] = b
	}
	return b
}

// Allow attempts to take one token from the bucket for key. When denied, it
// also returns the number of whole seconds the caller should wait before
// retrying (never less than 1). Reserving and immediately cancelling a
// denied reservation leaves the bucket's token count unaffected — rate.Limiter
// has no side-effect-free "peek", so Allow uses ReserveN+Cancel to compute
// retryAfter without consuming tokens the caller didn't get.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	b := l.getBucket(key)
	now := time.Now()

	if b.AllowN(now, 1) {
		return true, 0
	}

	res := b.ReserveN(now, 1)
	defer res.CancelAt(now)
	if !res.OK() {
		// Requested burst exceeds the limiter's configured burst; this only
		// happens if capacity was misconfigured below 1.
		return false, time.Second
	}
	wait := res.DelayFrom(now)
	if wait < time.Second {
		wait = time.Second
	} else {
		wait = time.Duration(math.Ceil(wait.Seconds())) * time.Second
	}
	return false, wait
}

// Reset removes the bucket for key, restoring it to full capacity on next use.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
