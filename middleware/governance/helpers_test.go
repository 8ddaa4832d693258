package governance

import (
	"context"
	"testing"
	"time"

	"governance-gateway/middleware/governance/application"
	"governance-gateway/middleware/governance/domain"
	"governance-gateway/middleware/governance/infra"
)

type fixture struct {
	settings *infra.StaticSettings
	store    *infra.MemoryStore
	tracker  *application.LockoutTracker
	pipeline application.Pipeline
}

type users map[string]string

func (u users) UsernameByID(_ context.Context, id string) (string, error) {
	name, ok := u[id]
	if !ok {
		return "", domain.ErrUserNotFound
	}
	return name, nil
}

func newFixture(t *testing.T, rules ...domain.IPRule) *fixture {
	t.Helper()
	settings := infra.NewStaticSettings()
	settings.SetRules(rules...)
	settings.SetLockout(domain.LockoutSettings{Enabled: true, Threshold: 2, Duration: time.Minute, Grace: time.Second})
	store := infra.NewMemoryStore()

	locks := application.NewLockManager(store, application.WithLockBackoff(time.Millisecond, 5*time.Millisecond))
	ip := application.NewIPEvaluator(settings, settings)
	if _, err := ip.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	tracker := application.NewLockoutTracker(store, locks, settings, application.WithUserDirectory(users{"7": "alice"}))

	return &fixture{
		settings: settings,
		store:    store,
		tracker:  tracker,
		pipeline: application.Pipeline{
			Resolver: application.NewScopeResolver(settings),
			IP:       ip,
			Limiter:  application.NewRateLimiter(store),
			Lockout:  tracker,
			Settings: settings,
		},
	}
}
