package application

import (
	"context"
	"time"

	"governance-gateway/middleware/governance/domain"

	"pkt.systems/pslog"
)

// Pipeline é o ponto de entrada único da governança:
// escopo -> IP -> rate limit, e depois da autenticação o registro no lockout.
//
// Componentes nil são pulados (a etapa permite). Falhas de coordenação nunca
// somem: vão em Decision.Err mesmo quando a etapa falha aberta.
type Pipeline struct {
	Resolver *ScopeResolver
	IP       *IPEvaluator
	Limiter  *RateLimiter
	Lockout  *LockoutTracker
	Settings domain.SettingsSource
	Stats    domain.StatsStore
	Logger   pslog.Logger
	// RetryAfter é usado quando a etapa não tem sugestão melhor. Padrão 1s.
	RetryAfter time.Duration
}

func (p Pipeline) logger() pslog.Logger {
	if p.Logger == nil {
		return pslog.NoopLogger()
	}
	return p.Logger
}

func (p Pipeline) retryAfter(d time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	if p.RetryAfter > 0 {
		return p.RetryAfter
	}
	return time.Second
}

// Evaluate decide se o request pode seguir para o upstream.
func (p Pipeline) Evaluate(ctx context.Context, req domain.RequestMeta) domain.Decision {
	var scope domain.TenantScope
	if p.Resolver != nil {
		scope = p.Resolver.Resolve(req)
	} else {
		scope = domain.TenantScope{ClientIP: req.ClientIP, RouteID: RouteFromPath(req.Path), Source: domain.SourceDefault}
	}
	dec := domain.Decision{Allowed: true, Scope: scope, Remaining: -1}

	if p.IP != nil {
		v, err := p.IP.Evaluate(scope.ClientIP, scope.TenantID)
		switch {
		case err != nil:
			mode := domain.FailClosed
			if p.Settings != nil && p.Settings.IP().FailureMode != "" {
				mode = p.Settings.IP().FailureMode
			}
			dec.Err = err
			if mode == domain.FailClosed {
				dec.Allowed, dec.Stage, dec.Reason = false, domain.StageIP, "ip rules unavailable"
				dec.RetryAfter = p.retryAfter(0)
				p.record(ctx, req, dec, domain.Key("ip:"+scope.ClientIP))
				return dec
			}
			p.logger().Warn("pipeline.ip.fail_open", "error", err)
		case !v.Allowed:
			dec.Allowed, dec.Stage, dec.Reason = false, domain.StageIP, v.Reason
			p.logger().Debug("pipeline.ip.denied", "ip", scope.ClientIP, "rule", v.RuleID, "reason", v.Reason)
			p.record(ctx, req, dec, domain.Key("ip:"+scope.ClientIP))
			return dec
		}
	}

	if p.Limiter != nil && p.Settings != nil {
		v := p.Limiter.Check(ctx, scope, p.Settings.RatePolicies())
		if v.Err != nil && dec.Err == nil {
			dec.Err = v.Err
		}
		if !v.Allowed {
			dec.Allowed, dec.Stage, dec.Reason = false, domain.StageRate, "rate limit exceeded: "+v.PolicyID
			dec.RetryAfter = p.retryAfter(v.RetryAfter)
			dec.Limit, dec.Remaining = v.Limit, 0
			p.record(ctx, req, dec, v.Key)
			return dec
		}
		if !v.Unlimited {
			dec.Limit, dec.Remaining = v.Limit, v.Remaining
		}
		p.record(ctx, req, dec, v.Key)
		return dec
	}

	p.record(ctx, req, dec, "")
	return dec
}

// CheckLogin bloqueia a tentativa de login de um username em lockout.
// Store indisponível falha aberto (permite, com Err preenchido).
func (p Pipeline) CheckLogin(ctx context.Context, username string) domain.Decision {
	if p.Lockout == nil {
		return domain.Decision{Allowed: true}
	}
	until, locked, err := p.Lockout.IsLockedOut(ctx, username)
	if err != nil {
		return domain.Decision{Allowed: true, Err: err}
	}
	if !locked {
		return domain.Decision{Allowed: true}
	}
	wait := until.Sub(p.Lockout.clock.Now())
	return domain.Decision{
		Allowed:    false,
		Stage:      domain.StageLockout,
		Reason:     "account locked",
		RetryAfter: p.retryAfter(wait),
	}
}

// LoginFailed registra uma falha de autenticação reportada pelo upstream.
func (p Pipeline) LoginFailed(ctx context.Context, username string) (domain.LoginFailure, error) {
	if p.Lockout == nil {
		return domain.LoginFailure{}, nil
	}
	res, err := p.Lockout.RecordFailedLogin(ctx, username)
	if err == nil && res.Locked && p.Stats != nil {
		_ = p.Stats.Record(ctx, domain.StatsEvent{
			Key: domain.Key("user:" + normalizeUsername(username)), Allowed: false,
			Stage: domain.StageLockout, Reason: "account locked", At: time.Now(),
		})
	}
	return res, err
}

// LoginSucceeded zera o contador de falhas do username.
func (p Pipeline) LoginSucceeded(ctx context.Context, username string) error {
	if p.Lockout == nil {
		return nil
	}
	return p.Lockout.ResetFailedCount(ctx, username)
}

func (p Pipeline) record(ctx context.Context, req domain.RequestMeta, dec domain.Decision, key domain.Key) {
	if p.Stats == nil {
		return
	}
	err := p.Stats.Record(ctx, domain.StatsEvent{
		Key:     key,
		Allowed: dec.Allowed,
		Stage:   dec.Stage,
		Reason:  dec.Reason,
		Tenant:  dec.Scope.TenantID,
		Method:  req.Method,
		Path:    req.Path,
		At:      time.Now(),
	})
	if err != nil {
		p.logger().Debug("pipeline.stats.failed", "error", err)
	}
}
