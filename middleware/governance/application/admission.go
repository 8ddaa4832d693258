package application

import (
	"context"
	"time"

	"governance-gateway/middleware/governance/domain"
)

// Admission limita requests em voo nesta instância antes do pipeline,
// sem saber nada sobre HTTP.
type Admission struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
	RetryAfter     time.Duration
}

// Admit tenta adquirir uma vaga.
// - Se `AcquireTimeout <= 0`, espera indefinidamente (até ctx cancelar).
// - Se `AcquireTimeout > 0`, espera até o timeout.
// Quando negado, release é nil e a Decision traz a etapa "concurrency".
func (s Admission) Admit(ctx context.Context) (func(), domain.Decision) {
	if s.Pool == nil {
		return func() {}, domain.Decision{Allowed: true}
	}

	acqCtx := ctx
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	release, ok := s.Pool.Acquire(acqCtx)
	if ok {
		return release, domain.Decision{Allowed: true}
	}

	retry := s.RetryAfter
	if retry <= 0 {
		retry = time.Second
	}
	return nil, domain.Decision{
		Allowed:    false,
		Stage:      domain.StageConcurrency,
		Reason:     "too many in-flight requests",
		RetryAfter: retry,
	}
}
