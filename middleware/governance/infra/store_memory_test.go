package infra

import (
	"context"
	"errors"
	"testing"
	"time"

	"governance-gateway/middleware/governance/domain"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMemoryStore_TTL(t *testing.T) {
	clock := NewManualClock(epoch)
	s := NewMemoryStore(WithMemoryClock(clock))
	ctx := context.Background()

	if err := s.SetWithTTL(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, ok, _ := s.Get(ctx, "k"); !ok || v != "v" {
		t.Fatalf("expected v, got %q ok=%v", v, ok)
	}

	clock.Advance(time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected key to expire")
	}
	if s.Len() != 0 {
		t.Fatalf("expected empty store, got %d", s.Len())
	}
}

func TestMemoryStore_SetIfAbsentOrExpired(t *testing.T) {
	clock := NewManualClock(epoch)
	s := NewMemoryStore(WithMemoryClock(clock))
	ctx := context.Background()

	if ok, _ := s.SetIfAbsentOrExpired(ctx, "lock", "a", time.Second); !ok {
		t.Fatalf("expected first set to win")
	}
	if ok, _ := s.SetIfAbsentOrExpired(ctx, "lock", "b", time.Second); ok {
		t.Fatalf("expected second set to lose while live")
	}

	clock.Advance(time.Second)
	if ok, _ := s.SetIfAbsentOrExpired(ctx, "lock", "b", time.Second); !ok {
		t.Fatalf("expected set to win after expiry")
	}
	if v, _, _ := s.Get(ctx, "lock"); v != "b" {
		t.Fatalf("expected b, got %q", v)
	}
}

func TestMemoryStore_CompareAndSwapAndDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_ = s.SetWithTTL(ctx, "k", "1", time.Minute)
	if ok, _ := s.CompareAndSwap(ctx, "k", "0", "2", time.Minute); ok {
		t.Fatalf("expected CAS with stale value to fail")
	}
	if ok, _ := s.CompareAndSwap(ctx, "k", "1", "2", time.Minute); !ok {
		t.Fatalf("expected CAS to succeed")
	}
	if ok, _ := s.CompareAndSwap(ctx, "missing", "", "x", time.Minute); ok {
		t.Fatalf("expected CAS on missing key to fail")
	}

	if ok, _ := s.CompareAndDelete(ctx, "k", "1"); ok {
		t.Fatalf("expected delete with stale value to fail")
	}
	if ok, _ := s.CompareAndDelete(ctx, "k", "2"); !ok {
		t.Fatalf("expected delete to succeed")
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("expected key to be gone")
	}
}

func TestMemoryStore_IncrementKeepsFirstTTL(t *testing.T) {
	clock := NewManualClock(epoch)
	s := NewMemoryStore(WithMemoryClock(clock))
	ctx := context.Background()

	if n, _ := s.Increment(ctx, "c", 1, time.Second); n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	clock.Advance(600 * time.Millisecond)
	if n, _ := s.Increment(ctx, "c", 2, time.Second); n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}

	// o TTL não é renovado pelo segundo incremento
	clock.Advance(400 * time.Millisecond)
	if n, _ := s.Increment(ctx, "c", 1, time.Second); n != 1 {
		t.Fatalf("expected counter to restart after first TTL, got %d", n)
	}

	_ = s.SetWithTTL(ctx, "s", "abc", 0)
	if _, err := s.Increment(ctx, "s", 1, 0); err == nil {
		t.Fatalf("expected error incrementing non-integer value")
	}
}

func TestMemoryStore_Unavailable(t *testing.T) {
	s := NewMemoryStore()
	s.SetUnavailable(true)
	ctx := context.Background()

	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, domain.ErrCoordinationUnavailable) {
		t.Fatalf("expected ErrCoordinationUnavailable, got %v", err)
	}
	if _, err := s.Increment(ctx, "k", 1, time.Second); !errors.Is(err, domain.ErrCoordinationUnavailable) {
		t.Fatalf("expected ErrCoordinationUnavailable, got %v", err)
	}

	s.SetUnavailable(false)
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, _, err := s.Get(cctx, "k"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
