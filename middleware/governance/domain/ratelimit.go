package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

type Key string

type PolicyKind string

const (
	PolicyFixedWindow   PolicyKind = "fixed_window"
	PolicySlidingWindow PolicyKind = "sliding_window"
	PolicyTokenBucket   PolicyKind = "token_bucket"
)

// ScopeKind diz como a chave do limiter é composta a partir do TenantScope.
type ScopeKind string

const (
	ScopeIP          ScopeKind = "ip"
	ScopeTenant      ScopeKind = "tenant"
	ScopeTenantRoute ScopeKind = "tenant_route"
	ScopeClientRoute ScopeKind = "client_route"
)

// FailureMode define o comportamento quando o store compartilhado está fora.
type FailureMode string

const (
	FailOpen   FailureMode = "open"
	FailClosed FailureMode = "closed"
	// FailLocal degrada para um token bucket local por instância.
	FailLocal FailureMode = "local"
)

// RatePolicy é uma política de rate limit vinda da administração.
//
// Para janelas usa Limit/Window; para token bucket usa Capacity/RefillRate (tokens/s).
type RatePolicy struct {
	ID          string
	Kind        PolicyKind
	Scope       ScopeKind
	Limit       int64
	Window      time.Duration
	Capacity    int64
	RefillRate  float64
	FailureMode FailureMode
	// Routes restringe a política a rotas específicas. Vazio = todas.
	Routes []string
}

// RateResult é a resposta de um único limiter.
type RateResult struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
	// RetryAfter é a espera sugerida quando bloqueado. Se 0, não há recomendação.
	RetryAfter time.Duration
}

// TokenBucketState é o valor persistido para políticas token bucket.
type TokenBucketState struct {
	Tokens     float64
	LastRefill time.Time
}

// LocalLimiter é o limiter por instância usado no modo FailLocal.
type LocalLimiter interface {
	Allow(key string, rps float64, burst int) bool
}
