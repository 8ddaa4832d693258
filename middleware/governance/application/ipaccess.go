package application

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"governance-gateway/middleware/governance/domain"

	"pkt.systems/pslog"
)

type compiledRule struct {
	rule   domain.IPRule
	prefix netip.Prefix
}

// ruleSnapshot é imutável depois de publicado; requests só leem.
type ruleSnapshot struct {
	global   []compiledRule
	byTenant map[string][]compiledRule
	loadedAt time.Time
}

// IPEvaluator avalia allow/deny contra um cache local de regras.
//
// O cache é o único estado mutável: é trocado inteiro (copy-on-write) pelo refresh,
// então Evaluate nunca bloqueia. A defasagem é limitada pelo intervalo de refresh.
type IPEvaluator struct {
	source   domain.RuleSource
	settings domain.SettingsSource
	clock    domain.Clock
	logger   pslog.Logger

	snap      atomic.Pointer[ruleSnapshot]
	refreshMu sync.Mutex
}

type IPOption func(*IPEvaluator)

func WithIPClock(c domain.Clock) IPOption {
	return func(e *IPEvaluator) { e.clock = c }
}

func WithIPLogger(l pslog.Logger) IPOption {
	return func(e *IPEvaluator) { e.logger = l }
}

func NewIPEvaluator(source domain.RuleSource, settings domain.SettingsSource, opts ...IPOption) *IPEvaluator {
	e := &IPEvaluator{
		source:   source,
		settings: settings,
		clock:    systemClock{},
		logger:   pslog.NoopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ParseRule converte CIDR ou endereço literal (/32 ou /128) num prefixo normalizado.
func ParseRule(r domain.IPRule) (netip.Prefix, error) {
	if r.Type != domain.RuleAllow && r.Type != domain.RuleDeny {
		return netip.Prefix{}, fmt.Errorf("%w: rule %s: unknown type %q", domain.ErrInvalidRule, r.ID, r.Type)
	}
	raw := strings.TrimSpace(r.CIDR)
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidRule, r.ID, err)
		}
		addr := p.Addr()
		if addr.Is4In6() {
			if p.Bits() < 96 {
				return netip.Prefix{}, fmt.Errorf("%w: rule %s: mapped prefix shorter than /96", domain.ErrInvalidRule, r.ID)
			}
			return netip.PrefixFrom(addr.Unmap(), p.Bits()-96).Masked(), nil
		}
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidRule, r.ID, err)
	}
	addr = addr.Unmap().WithZone("")
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// Refresh recarrega todas as regras da fonte. Falha mantém o snapshot anterior.
// Regras malformadas são ignoradas com warning; desabilitadas e vencidas são descartadas.
func (e *IPEvaluator) Refresh(ctx context.Context) (int, error) {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	rules, err := e.source.LoadRules(ctx)
	if err != nil {
		e.logger.Warn("ipaccess.refresh.failed", "error", err)
		return 0, fmt.Errorf("refresh ip rules: %w: %w", domain.ErrCoordinationUnavailable, err)
	}

	now := e.clock.Now()
	snap := &ruleSnapshot{byTenant: make(map[string][]compiledRule), loadedAt: now}
	n := 0
	for _, r := range rules {
		if !r.Enabled || r.ExpiredAt(now) {
			continue
		}
		prefix, err := ParseRule(r)
		if err != nil {
			e.logger.Warn("ipaccess.rule.invalid", "rule", r.ID, "cidr", r.CIDR, "error", err)
			continue
		}
		cr := compiledRule{rule: r, prefix: prefix}
		if r.TenantID == "" {
			snap.global = append(snap.global, cr)
		} else {
			snap.byTenant[r.TenantID] = append(snap.byTenant[r.TenantID], cr)
		}
		n++
	}
	e.snap.Store(snap)
	e.logger.Debug("ipaccess.refresh.done", "rules", n)
	return n, nil
}

// Run carrega as regras e as recarrega no intervalo configurado até o ctx encerrar.
// O intervalo é relido a cada ciclo.
func (e *IPEvaluator) Run(ctx context.Context) {
	for {
		_, _ = e.Refresh(ctx)

		interval := e.settings.IP().RefreshInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Loaded informa se houve ao menos uma carga bem-sucedida.
func (e *IPEvaluator) Loaded() bool { return e.snap.Load() != nil }

// Evaluate decide para o IP do cliente no contexto (regras globais + do tenant).
//
// Deny sempre vence; lista de allow não vazia exige casamento; sem allow, permite.
// Sem nenhuma carga bem-sucedida devolve ErrCoordinationUnavailable.
func (e *IPEvaluator) Evaluate(clientIP, tenantID string) (domain.IPVerdict, error) {
	snap := e.snap.Load()
	if snap == nil {
		return domain.IPVerdict{}, fmt.Errorf("ip rules not loaded: %w", domain.ErrCoordinationUnavailable)
	}

	rules := snap.global
	if tenantRules := snap.byTenant[tenantID]; tenantID != "" && len(tenantRules) > 0 {
		rules = append(append(make([]compiledRule, 0, len(rules)+len(tenantRules)), rules...), tenantRules...)
	}
	if len(rules) == 0 {
		return domain.IPVerdict{Allowed: true}, nil
	}

	addr, err := netip.ParseAddr(strings.TrimSpace(clientIP))
	if err != nil {
		return domain.IPVerdict{Allowed: false, Reason: "invalid client address"}, nil
	}
	addr = addr.Unmap().WithZone("")

	now := e.clock.Now()
	allowRules := 0
	allowMatch := ""
	for _, cr := range rules {
		// a regra pode ter vencido depois do último refresh
		if cr.rule.ExpiredAt(now) {
			continue
		}
		if cr.rule.Type == domain.RuleDeny {
			if cr.prefix.Contains(addr) {
				return domain.IPVerdict{Allowed: false, Reason: "address denied", RuleID: cr.rule.ID}, nil
			}
			continue
		}
		allowRules++
		if allowMatch == "" && cr.prefix.Contains(addr) {
			allowMatch = cr.rule.ID
		}
	}
	if allowRules > 0 && allowMatch == "" {
		return domain.IPVerdict{Allowed: false, Reason: "address not in allow list"}, nil
	}
	return domain.IPVerdict{Allowed: true, RuleID: allowMatch}, nil
}
