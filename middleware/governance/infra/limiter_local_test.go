package infra

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiter_SameKeySharesBucket(t *testing.T) {
	l := NewLocalLimiter()

	if !l.Allow("k", 0.01, 1) {
		t.Fatalf("expected first call allowed")
	}
	if l.Allow("k", 0.01, 1) {
		t.Fatalf("expected second call rejected (burst=1)")
	}
	if !l.Allow("other", 0.01, 1) {
		t.Fatalf("expected different key to have its own bucket")
	}
	if l.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", l.Len())
	}
}

func TestLocalLimiter_AdjustsToNewBudget(t *testing.T) {
	l := NewLocalLimiter()

	_ = l.Allow("k", 0.01, 1)
	lim := l.limiter("k", 0.01, 5)
	if lim.Burst() != 5 {
		t.Fatalf("expected burst to follow the policy, got %d", lim.Burst())
	}
	if l.limiter("k", 2, 5).Limit() != 2 {
		t.Fatalf("expected rate to follow the policy")
	}
}

func TestLocalLimiter_CleanupRemovesIdle(t *testing.T) {
	l := NewLocalLimiter(WithIdleTTL(10 * time.Millisecond))

	_ = l.Allow("k", 1, 1)
	time.Sleep(25 * time.Millisecond)
	l.Cleanup()

	if l.Len() != 0 {
		t.Fatalf("expected idle key to be removed, got %d", l.Len())
	}
}

func TestLocalLimiter_Janitor(t *testing.T) {
	l := NewLocalLimiter(WithIdleTTL(5*time.Millisecond), WithCleanupEvery(5*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = l.Allow("k", 1, 1)
	l.StartJanitor(ctx)

	deadline := time.Now().Add(time.Second)
	for l.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if l.Len() != 0 {
		t.Fatalf("expected janitor to clean idle keys")
	}
}
