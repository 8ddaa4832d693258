package application

import (
	"context"
	"testing"
	"time"

	"governance-gateway/middleware/governance/domain"
	"governance-gateway/middleware/governance/infra"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	clock    *infra.ManualClock
	store    *infra.MemoryStore
	settings *infra.StaticSettings
	locks    *LockManager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := infra.NewManualClock(epoch)
	store := infra.NewMemoryStore(infra.WithMemoryClock(clock))
	return &testEnv{
		clock:    clock,
		store:    store,
		settings: infra.NewStaticSettings(),
		locks: NewLockManager(store,
			WithLockClock(clock),
			WithLockBackoff(time.Millisecond, 5*time.Millisecond),
		),
	}
}

type fakeDirectory map[string]string

func (d fakeDirectory) UsernameByID(_ context.Context, id string) (string, error) {
	u, ok := d[id]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return u, nil
}

type failingRules struct{ err error }

func (f failingRules) LoadRules(context.Context) ([]domain.IPRule, error) { return nil, f.err }
