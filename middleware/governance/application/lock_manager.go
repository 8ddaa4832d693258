package application

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"governance-gateway/middleware/governance/domain"

	"github.com/google/uuid"
	"pkt.systems/pslog"
)

// LockManager adquire, renova e libera leases nomeados sobre o CoordinationStore.
//
// O chamador escolhe a duração do lease; ela deve exceder a duração esperada da
// seção crítica com folga. O manager não ajusta isso sozinho.
type LockManager struct {
	store      domain.CoordinationStore
	clock      domain.Clock
	logger     pslog.Logger
	prefix     string
	minBackoff time.Duration
	maxBackoff time.Duration
}

type LockOption func(*LockManager)

func WithLockClock(c domain.Clock) LockOption {
	return func(m *LockManager) { m.clock = c }
}

func WithLockLogger(l pslog.Logger) LockOption {
	return func(m *LockManager) { m.logger = l }
}

// WithLockBackoff define o intervalo de polling de Acquire (dobrando até max, com jitter).
func WithLockBackoff(lo, hi time.Duration) LockOption {
	return func(m *LockManager) {
		if lo > 0 {
			m.minBackoff = lo
		}
		if hi >= m.minBackoff {
			m.maxBackoff = hi
		}
	}
}

func NewLockManager(store domain.CoordinationStore, opts ...LockOption) *LockManager {
	m := &LockManager{
		store:      store,
		clock:      systemClock{},
		logger:     pslog.NoopLogger(),
		prefix:     "lock:",
		minBackoff: 10 * time.Millisecond,
		maxBackoff: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryAcquire faz uma única tentativa. Lease ocupado devolve (nil, false, nil).
func (m *LockManager) TryAcquire(ctx context.Context, key string, lease time.Duration) (*domain.LockHandle, bool, error) {
	if lease <= 0 {
		return nil, false, fmt.Errorf("acquire %q: lease must be > 0", key)
	}
	token := uuid.NewString()
	// expiração calculada antes da chamada: o handle nunca acredita em mais tempo do que o store
	expires := m.clock.Now().Add(lease)
	ok, err := m.store.SetIfAbsentOrExpired(ctx, m.prefix+key, token, lease)
	if err != nil {
		return nil, false, fmt.Errorf("acquire %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &domain.LockHandle{Key: key, Token: token, ExpiresAt: expires}, true, nil
}

// Acquire tenta até conseguir o lease ou até waitTimeout (ou o ctx) encerrar.
//
// Cancelamento do chamador devolve ErrCancelled; fim do tempo (waitTimeout ou
// deadline do ctx) devolve ErrLockTimeout. waitTimeout <= 0 espera só pelo ctx.
func (m *LockManager) Acquire(ctx context.Context, key string, lease, waitTimeout time.Duration) (*domain.LockHandle, error) {
	waitCtx := ctx
	if waitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, waitTimeout)
		defer cancel()
	}

	backoff := m.minBackoff
	for {
		h, ok, err := m.TryAcquire(waitCtx, key, lease)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, m.waitErr(ctx, key)
			}
			return nil, err
		}
		if ok {
			return h, nil
		}

		t := time.NewTimer(jitter(backoff))
		select {
		case <-waitCtx.Done():
			t.Stop()
			return nil, m.waitErr(ctx, key)
		case <-t.C:
		}
		backoff = min(backoff*2, m.maxBackoff)
	}
}

func (m *LockManager) waitErr(parent context.Context, key string) error {
	if errors.Is(parent.Err(), context.Canceled) {
		return fmt.Errorf("acquire %q: %w", key, domain.ErrCancelled)
	}
	return fmt.Errorf("acquire %q: %w", key, domain.ErrLockTimeout)
}

// jitter sorteia entre d/2 e d.
func jitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

// Extend renova o lease para `extension` a partir de agora, se o token ainda confere.
// Token divergente devolve (false, ErrLockLost) sem tocar no lease de outro dono.
func (m *LockManager) Extend(ctx context.Context, h *domain.LockHandle, extension time.Duration) (bool, error) {
	if h == nil {
		return false, domain.ErrLockLost
	}
	if extension <= 0 {
		return false, fmt.Errorf("extend %q: extension must be > 0", h.Key)
	}
	now := m.clock.Now()
	if h.Expired(now) {
		// lease vencido pode já ter outro dono: não há o que renovar
		return false, fmt.Errorf("extend %q: %w", h.Key, domain.ErrLockLost)
	}
	expires := now.Add(extension)
	ok, err := m.store.CompareAndSwap(ctx, m.prefix+h.Key, h.Token, h.Token, extension)
	if err != nil {
		return false, fmt.Errorf("extend %q: %w", h.Key, err)
	}
	if !ok {
		return false, fmt.Errorf("extend %q: %w", h.Key, domain.ErrLockLost)
	}
	h.ExpiresAt = expires
	return true, nil
}

// Release libera o lease se o token ainda confere; senão reporta ErrLockLost.
func (m *LockManager) Release(ctx context.Context, h *domain.LockHandle) (bool, error) {
	if h == nil {
		return false, domain.ErrLockLost
	}
	ok, err := m.store.CompareAndDelete(ctx, m.prefix+h.Key, h.Token)
	if err != nil {
		return false, fmt.Errorf("release %q: %w", h.Key, err)
	}
	if !ok {
		return false, fmt.Errorf("release %q: %w", h.Key, domain.ErrLockLost)
	}
	return true, nil
}

// WithLock executa fn segurando o lease `key` e o libera ao final.
//
// Falha na liberação não anula o resultado de fn: o lease expira sozinho, então
// apenas registra o ocorrido.
func (m *LockManager) WithLock(ctx context.Context, key string, lease, wait time.Duration, fn func(ctx context.Context) error) error {
	h, err := m.Acquire(ctx, key, lease, wait)
	if err != nil {
		return err
	}
	defer func() {
		// libera mesmo com ctx do request cancelado
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if _, err := m.Release(relCtx, h); err != nil {
			m.logger.Warn("lock.release.failed", "key", key, "error", err)
		}
	}()
	return fn(ctx)
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
