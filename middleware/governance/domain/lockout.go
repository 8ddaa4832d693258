package domain

import (
	"context"
	"time"
)

// LockoutRecord é o estado de falhas de login de um username.
//
// Invariante: se LockoutEnd não é zero e está no futuro, FailedCount >= threshold
// configurado no momento do bloqueio.
type LockoutRecord struct {
	FailedCount  int       `json:"failed_count"`
	FirstFailure time.Time `json:"first_failure"`
	LockoutEnd   time.Time `json:"lockout_end,omitempty"`
}

// LockedAt informa se o registro está bloqueado em `now`.
func (r LockoutRecord) LockedAt(now time.Time) bool {
	return !r.LockoutEnd.IsZero() && now.Before(r.LockoutEnd)
}

type LockoutSettings struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
	// Grace é somado ao TTL do registro para que chaves antigas se limpem sozinhas.
	Grace time.Duration
}

// LoginFailure é o resultado de RecordFailedLogin.
type LoginFailure struct {
	Count      int
	Locked     bool
	LockoutEnd time.Time
}

// UserDirectory resolve userID -> username (colaborador externo de administração).
type UserDirectory interface {
	UsernameByID(ctx context.Context, userID string) (string, error)
}
