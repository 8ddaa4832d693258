package infra

import (
	"context"
	"errors"
	"testing"

	"governance-gateway/middleware/governance/domain"
)

func TestMemoryStatsStore_Counts(t *testing.T) {
	s := NewMemoryStatsStore(WithTrackKeys(true))
	ctx := context.Background()

	events := []domain.StatsEvent{
		{Key: "t:acme", Allowed: true, Tenant: "acme"},
		{Key: "t:acme", Allowed: false, Stage: domain.StageRate, Tenant: "acme"},
		{Key: "ip:10.0.0.1", Allowed: false, Stage: domain.StageIP, Tenant: "globex"},
	}
	for _, ev := range events {
		if err := s.Record(ctx, ev); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	if got := s.Total(); got.Allowed != 1 || got.Denied != 2 {
		t.Fatalf("unexpected total %+v", got)
	}
	if got := s.ByStage()[domain.StageRate]; got.Denied != 1 {
		t.Fatalf("unexpected rate stage %+v", got)
	}
	if got := s.ByTenant()["acme"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected acme counters %+v", got)
	}
	if got := s.ByKey()["t:acme"]; got.Allowed != 1 || got.Denied != 1 {
		t.Fatalf("unexpected key counters %+v", got)
	}
}

func TestMemoryStatsStore_KeysNotTrackedByDefault(t *testing.T) {
	s := NewMemoryStatsStore()
	_ = s.Record(context.Background(), domain.StatsEvent{Key: "t:acme", Allowed: true})

	if len(s.ByKey()) != 0 {
		t.Fatalf("expected no per-key counters")
	}
}

type failingStats struct{ err error }

func (f failingStats) Record(context.Context, domain.StatsEvent) error { return f.err }

func TestMultiStats_FansOutAndReturnsFirstError(t *testing.T) {
	a, b := NewMemoryStatsStore(), NewMemoryStatsStore()
	boom := errors.New("boom")
	m := MultiStats{a, failingStats{err: boom}, nil, b}

	err := m.Record(context.Background(), domain.StatsEvent{Allowed: true})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if a.Total().Allowed != 1 || b.Total().Allowed != 1 {
		t.Fatalf("expected every store to receive the event")
	}
}
