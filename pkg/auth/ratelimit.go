package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter checks whether a request from identity should be allowed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// idleTTL is how long an unused bucket is kept before it is swept.
const idleTTL = 10 * time.Minute

// TokenBucketLimiter keeps one token bucket per subject.
type TokenBucketLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ RateLimiter = (*TokenBucketLimiter)(nil)

// NewTokenBucketLimiter allows rps requests per second per subject with the
// given burst. A non-positive rps disables limiting.
func NewTokenBucketLimiter(rps float64, burst int) *TokenBucketLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow takes one token from the subject's bucket.
func (l *TokenBucketLimiter) Allow(_ context.Context, identity *Identity) error {
	if l.limit <= 0 || identity == nil {
		return nil
	}

	now := l.now()

	l.mu.Lock()
	b, ok := l.buckets[identity.Subject]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[identity.Subject] = b
	}
	b.lastSeen = now
	l.sweep(now)
	l.mu.Unlock()

	if !b.limiter.AllowN(now, 1) {
		return ErrTooManyRequests
	}
	return nil
}

// sweep drops idle buckets at most once per idleTTL. Caller holds l.mu.
func (l *TokenBucketLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleTTL {
		return
	}
	l.lastSweep = now
	for subject, b := range l.buckets {
		if now.Sub(b.lastSeen) >= idleTTL {
			delete(l.buckets, subject)
		}
	}
}

// Len returns the number of tracked subjects.
func (l *TokenBucketLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
