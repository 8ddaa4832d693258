package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão do pipeline de governança.
//
// Cuidado com cardinalidade: Key/Path sem controle podem explodir o número de
// séries/chaves em Redis ou Prometheus.
type StatsEvent struct {
	Key     Key
	Allowed bool
	Stage   Stage
	Reason  string
	Tenant  string

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de decisão.
//
// O pipeline trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
