package domain

import "time"

type Stage string

const (
	StageIP          Stage = "ip"
	StageRate        Stage = "rate"
	StageLockout     Stage = "lockout"
	StageConcurrency Stage = "concurrency"
)

type Decision struct {
	Allowed bool
	// Stage indica qual etapa decidiu o bloqueio (vazio quando permitido).
	Stage  Stage
	Reason string
	// RetryAfter é o valor a ser retornado em Retry-After quando bloquear.
	// Se 0, não há recomendação.
	RetryAfter time.Duration
	Scope      TenantScope
	// Remaining/Limit da política mais restritiva avaliada (para headers X-RateLimit-*).
	Remaining int64
	Limit     int64
	// Err carrega falhas de coordenação mesmo quando a decisão foi fail-open.
	Err error
}
