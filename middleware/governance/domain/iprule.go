package domain

import (
	"context"
	"time"
)

type RuleType string

const (
	RuleAllow RuleType = "allow"
	RuleDeny  RuleType = "deny"
)

// IPRule é uma regra de allow/deny vinda da administração.
//
// CIDR aceita tanto prefixo ("10.0.0.0/24") quanto endereço literal ("10.0.0.5").
// TenantID vazio significa regra global.
type IPRule struct {
	ID        string
	CIDR      string
	Type      RuleType
	Enabled   bool
	ExpiresAt time.Time
	TenantID  string
	CreatedAt time.Time
	CreatedBy string
}

// ExpiredAt informa se a regra já passou da expiração em `now`.
func (r IPRule) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// RuleSource carrega regras em lote do store de administração.
type RuleSource interface {
	LoadRules(ctx context.Context) ([]IPRule, error)
}

// IPVerdict é o resultado da avaliação de IP.
type IPVerdict struct {
	Allowed bool
	Reason  string
	RuleID  string
}
