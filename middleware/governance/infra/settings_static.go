package infra

import (
	"context"
	"sync"
	"time"

	"governance-gateway/middleware/governance/domain"
)

// StaticSettings é uma fonte de configuração em memória, mutável em runtime.
// Usada em testes e no example-server.
type StaticSettings struct {
	mu       sync.RWMutex
	lockout  domain.LockoutSettings
	policies []domain.RatePolicy
	tenant   domain.TenantSettings
	ip       domain.IPSettings
	rules    []domain.IPRule
}

func NewStaticSettings() *StaticSettings {
	return &StaticSettings{
		lockout: DefaultLockoutSettings(),
		tenant:  DefaultTenantSettings(),
		ip:      DefaultIPSettings(),
	}
}

func DefaultLockoutSettings() domain.LockoutSettings {
	return domain.LockoutSettings{
		Enabled:   true,
		Threshold: 5,
		Duration:  5 * time.Minute,
		Grace:     time.Minute,
	}
}

func DefaultTenantSettings() domain.TenantSettings {
	return domain.TenantSettings{
		Header:       "X-Tenant-Id",
		QueryParam:   "__tenant",
		ClientHeader: "X-Client-Id",
	}
}

func DefaultIPSettings() domain.IPSettings {
	return domain.IPSettings{
		RefreshInterval: 30 * time.Second,
		FailureMode:     domain.FailClosed,
	}
}

func (s *StaticSettings) Lockout() domain.LockoutSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockout
}

func (s *StaticSettings) RatePolicies() []domain.RatePolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.RatePolicy(nil), s.policies...)
}

func (s *StaticSettings) Tenant() domain.TenantSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tenant
}

func (s *StaticSettings) IP() domain.IPSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ip
}

// LoadRules implementa domain.RuleSource.
func (s *StaticSettings) LoadRules(context.Context) ([]domain.IPRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.IPRule(nil), s.rules...), nil
}

func (s *StaticSettings) SetLockout(v domain.LockoutSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockout = v
}

func (s *StaticSettings) SetPolicies(p ...domain.RatePolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = append([]domain.RatePolicy(nil), p...)
}

func (s *StaticSettings) SetTenant(v domain.TenantSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenant = v
}

func (s *StaticSettings) SetIP(v domain.IPSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ip = v
}

func (s *StaticSettings) SetRules(r ...domain.IPRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]domain.IPRule(nil), r...)
}
