package infra

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter é um token bucket por chave (x/time/rate) com cache e limpeza periódica.
//
// O estado é da instância: serve como degradação (modo FailLocal) quando o
// store compartilhado está fora, não como limite global.
type LocalLimiter struct {
	mu           sync.Mutex
	entries      map[string]*localEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
}

type localEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

type LocalLimiterOption func(*LocalLimiter)

func WithIdleTTL(d time.Duration) LocalLimiterOption {
	return func(l *LocalLimiter) { l.idleTTL = d }
}

func WithCleanupEvery(d time.Duration) LocalLimiterOption {
	return func(l *LocalLimiter) { l.cleanupEvery = d }
}

func NewLocalLimiter(opts ...LocalLimiterOption) *LocalLimiter {
	l := &LocalLimiter{
		entries:      make(map[string]*localEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implementa domain.LocalLimiter. Se a política mudou, o limiter existente é ajustado.
func (l *LocalLimiter) Allow(key string, rps float64, burst int) bool {
	return l.limiter(key, rps, burst).Allow()
}

func (l *LocalLimiter) limiter(key string, rps float64, burst int) *rate.Limiter {
	now := time.Now()
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.entries[key]; ok {
		ent.lastSeen = now
		if ent.lim.Limit() != rate.Limit(rps) {
			ent.lim.SetLimitAt(now, rate.Limit(rps))
		}
		if ent.lim.Burst() != burst {
			ent.lim.SetBurstAt(now, burst)
		}
		return ent.lim
	}

	lim := rate.NewLimiter(rate.Limit(rps), burst)
	l.entries[key] = &localEntry{lim: lim, lastSeen: now}
	return lim
}

func (l *LocalLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (l *LocalLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(l.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}
