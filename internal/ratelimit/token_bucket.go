package ratelimit

import (
	"math"
	"sync"
	"time"
)

type Bucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(key string, bucket Bucket) Decision
}

type bucketState struct {
	tokens     float64
	lastRefill time.Time
}

// TokenBucketLimiter keeps one bucket per key in process memory. Buckets are
// created lazily on first sight of a key and never evicted; keys are client
// network addresses, so the table is bounded by process lifetime. Every
// refill-and-decrement happens under a single lock.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	now     func() time.Time
}

func NewTokenBucketLimiter() *TokenBucketLimiter {
	return &TokenBucketLimiter{
		buckets: make(map[string]*bucketState),
		now:     time.Now,
	}
}

func (l *TokenBucketLimiter) Allow(key string, bucket Bucket) Decision {
	if l == nil || !bucket.Enabled() {
		return Decision{Allowed: true}
	}
	if key == "" {
		key = "unknown"
	}

	ratePerSec := float64(bucket.RequestsPerMinute) / 60.0
	capacity := float64(bucket.BurstSize)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucketState{tokens: capacity, lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens = math.Min(capacity, b.tokens+elapsed*ratePerSec)
	b.lastRefill = now

	if b.tokens < 1.0 {
		retryAfter := time.Duration(math.Ceil((1.0-b.tokens)/ratePerSec)) * time.Second
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	b.tokens -= 1.0
	return Decision{Allowed: true}
}
