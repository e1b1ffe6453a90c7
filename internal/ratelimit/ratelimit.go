// Package ratelimit implements a token bucket rate limiter per
// (endpoint-class, caller-identity), built on golang.org/x/time/rate
// and keyed by the (class, identity) pair rather than a single key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class is one of the fixed endpoint classes rate limiting applies to.
type Class string

const (
	ClassRPC      Class = "rpc"
	ClassHealth   Class = "health"
	ClassInternal Class = "internal"
)

// ClassLimit is the (requests-per-minute, burst) pair for a class.
type ClassLimit struct {
	PerMinute int
	Burst     int
}

// Config carries the per-class limits.
type Config struct {
	Enabled bool
	Limits  map[Class]ClassLimit
}

// DefaultConfig returns the default per-class limits.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Limits: map[Class]ClassLimit{
			ClassRPC:      {PerMinute: 100, Burst: 20},
			ClassHealth:   {PerMinute: 300, Burst: 50},
			ClassInternal: {}, // unlimited
		},
	}
}

// Limiter is the process-wide rate limiter, one bucket per (class,
// identity) pair, created lazily on first use.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New constructs a Limiter from cfg.
func New(cfg Config) *Limiter {
	return &Limiter{cfg: cfg, buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether one token is available for (class, identity),
// consuming it if so. For ClassInternal (unlimited) it always allows.
// retryAfter is the duration until the next token is available when
// Allow returns false, as a Retry-After hint.
func (l *Limiter) Allow(class Class, identity string) (allowed bool, retryAfter time.Duration) {
	if !l.cfg.Enabled || class == ClassInternal {
		return true, 0
	}

	limit := l.cfg.Limits[class]
	if limit.PerMinute <= 0 {
		return true, 0
	}

	b := l.bucketFor(class, identity, limit)
	res := b.ReserveN(time.Now(), 1)
	if !res.OK() {
		return false, time.Second
	}
	delay := res.Delay()
	if delay > 0 {
		res.Cancel()
		return false, delay
	}
	return true, 0
}

func (l *Limiter) bucketFor(class Class, identity string, limit ClassLimit) *rate.Limiter {
	key := string(class) + "\x00" + identity

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(limit.PerMinute) / 60.0)
		b = rate.NewLimiter(perSecond, limit.Burst)
		l.buckets[key] = b
	}
	return b
}

// BucketCount returns the number of distinct (class, identity) buckets
// currently tracked. Exposed for metrics/testing.
func (l *Limiter) BucketCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// UpdateConfig hot-applies cfg, for a config file reload that changes a
// rate limit without touching a structural key. Existing buckets are
// dropped rather than resized in place: golang.org/x/time/rate.Limiter
// has no public way to change its rate without also resetting its
// token count, and a config edit is rare enough that losing in-flight
// burst credit for open identities is an acceptable trade for not
// hand-rolling that reset logic.
func (l *Limiter) UpdateConfig(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.buckets = make(map[string]*rate.Limiter)
}
