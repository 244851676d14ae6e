// Package ratelimit throttles requests per caller with token buckets.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

const (
	defaultIdleTTL    = 10 * time.Minute
	defaultMaxEntries = 10000
)

// Limiter hands out one token bucket per key. Buckets idle for longer than
// the idle TTL are dropped, and the least recently used bucket is evicted
// once the capacity is reached.
type Limiter struct {
	mu      sync.Mutex
	buckets *ttlcache.Cache[string, *rate.Limiter]
	rate    rate.Limit
	burst   int
}

// New creates a Limiter allowing perSecond requests with the given burst.
// Call Close to stop the expiry loop.
func New(perSecond float64, burst int) *Limiter {
	c := ttlcache.New(
		ttlcache.WithTTL[string, *rate.Limiter](defaultIdleTTL),
		ttlcache.WithCapacity[string, *rate.Limiter](defaultMaxEntries),
	)
	go c.Start()

	return &Limiter{buckets: c, rate: rate.Limit(perSecond), burst: burst}
}

// Allow reports whether key may make a request now.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if item := l.buckets.Get(key); item != nil {
		return item.Value().Allow()
	}
	bucket := rate.NewLimiter(l.rate, l.burst)
	l.buckets.Set(key, bucket, ttlcache.DefaultTTL)
	return bucket.Allow()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	return l.buckets.Len()
}

func (l *Limiter) Close() {
	l.buckets.Stop()
}
