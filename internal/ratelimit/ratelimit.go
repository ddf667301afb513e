// Package ratelimit keeps one token bucket per client key (the client IP).
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Limiter allows Requests per Window for each key, with bursts up to
// Requests. The least recently seen keys are forgotten once MaxClients are
// tracked.
type Limiter struct {
	mu      sync.Mutex
	buckets *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

// New returns a limiter. maxClients <= 0 tracks up to 10000 keys.
func New(requests int, window time.Duration, maxClients int) *Limiter {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if requests <= 0 {
		requests = 1
	}
	buckets, _ := lru.New[string, *rate.Limiter](maxClients)
	return &Limiter{
		buckets: buckets,
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   requests,
		now:     time.Now,
	}
}

// Allow consumes one token for key. When the bucket is empty it returns
// false and how long the caller should wait.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	b, ok := l.buckets.Get(key)
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets.Add(key, b)
	}
	l.mu.Unlock()

	now := l.now()
	r := b.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len reports how many keys are tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buckets.Len()
}
