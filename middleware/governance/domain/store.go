package domain

import (
	"context"
	"time"
)

// CoordinationStore é o store chave/valor compartilhado por todas as instâncias do gateway.
//
// Toda operação deve ser atômica no próprio store; nenhuma implementação pode
// depender de mutex local para garantir consistência entre instâncias.
// Falhas de transporte devem ser reportadas como ErrCoordinationUnavailable.
type CoordinationStore interface {
	// Get retorna (valor, true) ou ("", false) quando a chave não existe/expirou.
	Get(ctx context.Context, key string) (string, bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsentOrExpired grava somente se a chave não existe (ou já expirou).
	SetIfAbsentOrExpired(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndSwap troca old por new (renovando o TTL) somente se o valor atual for old.
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)
	// CompareAndDelete remove a chave somente se o valor atual for old.
	CompareAndDelete(ctx context.Context, key, old string) (bool, error)
	// Increment soma delta e retorna o novo valor. O TTL só é aplicado quando a chave nasce.
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Clock abstrai o relógio para testes determinísticos.
type Clock interface {
	Now() time.Time
}
