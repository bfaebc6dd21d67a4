package ratelimit

import (
	"testing"
	"time"
)

func newTestPerKey(maxTokens float64) *PerKeyLimiter {
	return NewPerKeyLimiter(PerKeyLimiterConfig{
		MaxTokens:     maxTokens,
		RefillRate:    0.001,
		CleanupPeriod: time.Hour,
	})
}

func TestPerKeyIsolation(t *testing.T) {
	t.Parallel()

	pkl := newTestPerKey(1)
	defer pkl.Stop()

	if !pkl.Allow("10.0.0.1") {
		t.Fatal("Allow() = false for a fresh key")
	}
	if pkl.Allow("10.0.0.1") {
		t.Error("Allow() = true for an exhausted key")
	}
	if !pkl.Allow("10.0.0.2") {
		t.Error("Allow() = false for a different key, want independent buckets")
	}
	if got := pkl.ActiveCount(); got != 2 {
		t.Errorf("ActiveCount() = %d, want 2", got)
	}
}

func TestPerKeyEmptyKeyAlwaysAllowed(t *testing.T) {
	t.Parallel()

	pkl := newTestPerKey(1)
	defer pkl.Stop()

	for i := 0; i < 5; i++ {
		if !pkl.Allow("") {
			t.Fatal("Allow(\"\") = false, want unkeyed requests passed through")
		}
	}
	if got := pkl.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount() = %d after empty-key requests, want 0", got)
	}
}

func TestPerKeyOnDropCallback(t *testing.T) {
	t.Parallel()

	pkl := newTestPerKey(1)
	defer pkl.Stop()

	drops := 0
	pkl.OnDrop(func() { drops++ })

	pkl.Allow("10.0.0.1")
	pkl.Allow("10.0.0.1")
	pkl.Allow("10.0.0.1")

	if drops != 2 {
		t.Errorf("drop callback fired %d times, want 2", drops)
	}
}

func TestPerKeyStopIdempotent(t *testing.T) {
	t.Parallel()

	pkl := newTestPerKey(1)
	pkl.Stop()
	pkl.Stop()
}
