package infra

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"governance-gateway/middleware/governance/domain"
)

// MemoryStore é um CoordinationStore em memória.
// Útil para testes, desenvolvimento e deploy de instância única.
//
// Não é compartilhado entre processos: não use com mais de uma instância do gateway.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memEntry
	clock   domain.Clock

	unavailable atomic.Bool
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

type MemoryStoreOption func(*MemoryStore)

func WithMemoryClock(c domain.Clock) MemoryStoreOption {
	return func(s *MemoryStore) { s.clock = c }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memEntry),
		clock:   RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetUnavailable simula queda do store: toda operação passa a falhar.
func (s *MemoryStore) SetUnavailable(down bool) { s.unavailable.Store(down) }

func (s *MemoryStore) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.unavailable.Load() {
		return domain.ErrCoordinationUnavailable
	}
	return nil
}

// lookup deve ser chamado com mu travado.
func (s *MemoryStore) lookup(key string, now time.Time) (memEntry, bool) {
	ent, ok := s.entries[key]
	if !ok {
		return memEntry{}, false
	}
	if !ent.expiresAt.IsZero() && !now.Before(ent.expiresAt) {
		delete(s.entries, key)
		return memEntry{}, false
	}
	return ent, true
}

func (s *MemoryStore) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := s.check(ctx); err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.lookup(key, s.clock.Now())
	return ent.value, ok, nil
}

func (s *MemoryStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memEntry{value: value, expiresAt: s.expiry(now, ttl)}
	return nil
}

func (s *MemoryStore) SetIfAbsentOrExpired(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.lookup(key, now); ok {
		return false, nil
	}
	s.entries[key] = memEntry{value: value, expiresAt: s.expiry(now, ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.lookup(key, now)
	if !ok || ent.value != old {
		return false, nil
	}
	s.entries[key] = memEntry{value: new, expiresAt: s.expiry(now, ttl)}
	return true, nil
}

func (s *MemoryStore) CompareAndDelete(ctx context.Context, key, old string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.lookup(key, s.clock.Now())
	if !ok || ent.value != old {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if err := s.check(ctx); err != nil {
		return 0, err
	}
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	ent, ok := s.lookup(key, now)
	if !ok {
		s.entries[key] = memEntry{value: strconv.FormatInt(delta, 10), expiresAt: s.expiry(now, ttl)}
		return delta, nil
	}
	cur, err := strconv.ParseInt(ent.value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("increment %q: value is not an integer", key)
	}
	cur += delta
	ent.value = strconv.FormatInt(cur, 10)
	s.entries[key] = ent
	return cur, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Len retorna quantas chaves vivas existem (varre e descarta as expiradas).
func (s *MemoryStore) Len() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.entries {
		if _, ok := s.lookup(k, now); ok {
			n++
		}
	}
	return n
}
