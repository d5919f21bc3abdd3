// Package ratelimit throttles outbound deliveries per subscription.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements token bucket rate limiting per key. Each key gets a
// bucket whose burst equals its per-second rate.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a new rate limiter.
func New() *Limiter {
	return &Limiter{
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether key may proceed now, consuming a token if so.
// A perSecond of 0 means unlimited.
func (l *Limiter) Allow(key string, perSecond int) bool {
	if perSecond <= 0 {
		return true
	}
	return l.bucket(key, perSecond).Allow()
}

// Delay reserves a token for key and returns how long the caller must wait
// before using it. A non-zero delay cancels the reservation, so the caller
// retries later instead of holding a token.
func (l *Limiter) Delay(key string, perSecond int) time.Duration {
	if perSecond <= 0 {
		return 0
	}
	r := l.bucket(key, perSecond).Reserve()
	if !r.OK() {
		return time.Second
	}
	d := r.Delay()
	if d > 0 {
		r.Cancel()
	}
	return d
}

// Forget clears the rate limit state for key.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) bucket(key string, perSecond int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		l.buckets[key] = b
		return b
	}
	if b.Limit() != rate.Limit(perSecond) {
		b.SetLimit(rate.Limit(perSecond))
		b.SetBurst(perSecond)
	}
	return b
}
