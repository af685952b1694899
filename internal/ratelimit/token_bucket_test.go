package ratelimit

import (
	"testing"
	"time"
)

func newTestLimiter(start time.Time) (*TokenBucketLimiter, *time.Time) {
	now := start
	lim := NewTokenBucketLimiter()
	lim.now = func() time.Time { return now }
	return lim, &now
}

func TestBurstThenDeny(t *testing.T) {
	lim, _ := newTestLimiter(time.Unix(1000, 0))
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 3}

	for i := 0; i < 3; i++ {
		if dec := lim.Allow("1.2.3.4", bucket); !dec.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	dec := lim.Allow("1.2.3.4", bucket)
	if dec.Allowed {
		t.Fatal("request beyond burst should be denied")
	}
	if dec.RetryAfter < time.Second {
		t.Fatalf("expected RetryAfter >= 1s, got %v", dec.RetryAfter)
	}
}

func TestRefillOverTime(t *testing.T) {
	lim, now := newTestLimiter(time.Unix(1000, 0))
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 2}

	lim.Allow("k", bucket)
	lim.Allow("k", bucket)
	if dec := lim.Allow("k", bucket); dec.Allowed {
		t.Fatal("bucket should be empty")
	}

	// 60/min refills one token per second.
	*now = now.Add(time.Second)
	if dec := lim.Allow("k", bucket); !dec.Allowed {
		t.Fatal("one token should have refilled")
	}
	if dec := lim.Allow("k", bucket); dec.Allowed {
		t.Fatal("only one token should have refilled")
	}
}

func TestRefillCappedAtBurst(t *testing.T) {
	lim, now := newTestLimiter(time.Unix(1000, 0))
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 2}

	lim.Allow("k", bucket)
	lim.Allow("k", bucket)

	*now = now.Add(time.Hour)
	for i := 0; i < 2; i++ {
		if dec := lim.Allow("k", bucket); !dec.Allowed {
			t.Fatalf("request %d after long idle should be allowed", i)
		}
	}
	if dec := lim.Allow("k", bucket); dec.Allowed {
		t.Fatal("refill must cap at burst size")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	lim, _ := newTestLimiter(time.Unix(1000, 0))
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 1}

	if dec := lim.Allow("a", bucket); !dec.Allowed {
		t.Fatal("first key should pass")
	}
	if dec := lim.Allow("a", bucket); dec.Allowed {
		t.Fatal("first key should be exhausted")
	}
	if dec := lim.Allow("b", bucket); !dec.Allowed {
		t.Fatal("second key must have its own bucket")
	}
}

func TestDisabledBucketAlwaysAllows(t *testing.T) {
	lim, _ := newTestLimiter(time.Unix(1000, 0))
	bucket := Bucket{}
	for i := 0; i < 100; i++ {
		if dec := lim.Allow("k", bucket); !dec.Allowed {
			t.Fatal("disabled bucket must never deny")
		}
	}
}

func TestEmptyKeyBucketsAsUnknown(t *testing.T) {
	lim, _ := newTestLimiter(time.Unix(1000, 0))
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 1}

	if dec := lim.Allow("", bucket); !dec.Allowed {
		t.Fatal("first anonymous request should pass")
	}
	if dec := lim.Allow("unknown", bucket); dec.Allowed {
		t.Fatal("empty key must share the unknown bucket")
	}
}
