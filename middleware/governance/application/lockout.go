package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"governance-gateway/middleware/governance/domain"

	"pkt.systems/pslog"
)

var errEmptyUsername = errors.New("empty username")

// LockoutTracker conta falhas de login por username e bloqueia ao atingir o limite.
//
// Estados: Clean -> Accumulating -> Locked -> (duração vence) -> Clean.
// Sucesso de login ou unlock administrativo levam direto a Clean.
// As configurações são lidas a cada chamada (mudam sem restart).
type LockoutTracker struct {
	store    domain.CoordinationStore
	locks    *LockManager
	settings domain.SettingsSource
	users    domain.UserDirectory
	clock    domain.Clock
	logger   pslog.Logger

	lease time.Duration
	wait  time.Duration
}

type LockoutOption func(*LockoutTracker)

func WithLockoutClock(c domain.Clock) LockoutOption {
	return func(t *LockoutTracker) { t.clock = c }
}

func WithLockoutLogger(l pslog.Logger) LockoutOption {
	return func(t *LockoutTracker) { t.logger = l }
}

func WithUserDirectory(d domain.UserDirectory) LockoutOption {
	return func(t *LockoutTracker) { t.users = d }
}

// WithLockoutLease define o lease por username e quanto esperar por ele.
func WithLockoutLease(lease, wait time.Duration) LockoutOption {
	return func(t *LockoutTracker) {
		if lease > 0 {
			t.lease = lease
		}
		if wait > 0 {
			t.wait = wait
		}
	}
}

func NewLockoutTracker(store domain.CoordinationStore, locks *LockManager, settings domain.SettingsSource, opts ...LockoutOption) *LockoutTracker {
	t := &LockoutTracker{
		store:    store,
		locks:    locks,
		settings: settings,
		clock:    systemClock{},
		logger:   pslog.NoopLogger(),
		lease:    5 * time.Second,
		wait:     2 * time.Second,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func normalizeUsername(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

func recordKey(username string) string { return "lockout:rec:" + username }

func lockKey(username string) string { return "lockout:" + username }

func (t *LockoutTracker) lockoutSettings() domain.LockoutSettings {
	cfg := t.settings.Lockout()
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 5 * time.Minute
	}
	return cfg
}

func (t *LockoutTracker) read(ctx context.Context, username string) (domain.LockoutRecord, bool, error) {
	raw, found, err := t.store.Get(ctx, recordKey(username))
	if err != nil || !found {
		return domain.LockoutRecord{}, false, err
	}
	var rec domain.LockoutRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		// registro ilegível conta como limpo; a próxima falha sobrescreve
		t.logger.Warn("lockout.record.corrupt", "username", username, "error", err)
		return domain.LockoutRecord{}, false, nil
	}
	return rec, true, nil
}

// IsLockedOut é leitura pura, sem lease. Lockout vencido conta como não bloqueado.
//
// Store indisponível: devolve (false, err), ou seja, falha aberta.
func (t *LockoutTracker) IsLockedOut(ctx context.Context, username string) (time.Time, bool, error) {
	username = normalizeUsername(username)
	if username == "" {
		return time.Time{}, false, nil
	}
	if !t.lockoutSettings().Enabled {
		return time.Time{}, false, nil
	}
	rec, found, err := t.read(ctx, username)
	if err != nil {
		t.logger.Warn("lockout.check.unavailable", "username", username, "error", err)
		return time.Time{}, false, err
	}
	if !found || !rec.LockedAt(t.clock.Now()) {
		return time.Time{}, false, nil
	}
	return rec.LockoutEnd, true, nil
}

// RecordFailedLogin incrementa o contador sob o lease do username.
//
// Ao atingir o limite grava LockoutEnd = agora + duração. Falhas já em bloqueio
// só incrementam o contador: o fim do bloqueio não é empurrado para frente.
// Com Enabled=false conta, mas nunca bloqueia.
func (t *LockoutTracker) RecordFailedLogin(ctx context.Context, username string) (domain.LoginFailure, error) {
	username = normalizeUsername(username)
	if username == "" {
		return domain.LoginFailure{}, errEmptyUsername
	}
	cfg := t.lockoutSettings()

	var res domain.LoginFailure
	err := t.locks.WithLock(ctx, lockKey(username), t.lease, t.wait, func(ctx context.Context) error {
		now := t.clock.Now()
		rec, _, err := t.read(ctx, username)
		if err != nil {
			return err
		}
		if !rec.LockoutEnd.IsZero() && !rec.LockedAt(now) {
			// bloqueio anterior venceu: recomeça do zero
			rec = domain.LockoutRecord{}
		}
		if rec.FailedCount == 0 {
			rec.FirstFailure = now
		}
		rec.FailedCount++

		if cfg.Enabled && rec.LockoutEnd.IsZero() && rec.FailedCount >= cfg.Threshold {
			rec.LockoutEnd = now.Add(cfg.Duration)
			t.logger.Info("lockout.locked", "username", username, "count", rec.FailedCount, "until", rec.LockoutEnd)
		}

		ttl := cfg.Duration + cfg.Grace
		if rec.LockedAt(now) {
			ttl = rec.LockoutEnd.Sub(now) + cfg.Grace
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := t.store.SetWithTTL(ctx, recordKey(username), string(data), ttl); err != nil {
			return err
		}

		res = domain.LoginFailure{Count: rec.FailedCount, Locked: cfg.Enabled && rec.LockedAt(now)}
		if res.Locked {
			res.LockoutEnd = rec.LockoutEnd
		}
		return nil
	})
	if err != nil {
		t.logger.Warn("lockout.record.failed", "username", username, "error", err)
		return domain.LoginFailure{}, fmt.Errorf("record failed login: %w", err)
	}
	return res, nil
}

// ResetFailedCount limpa o registro depois de um login com sucesso.
func (t *LockoutTracker) ResetFailedCount(ctx context.Context, username string) error {
	username = normalizeUsername(username)
	if username == "" {
		return errEmptyUsername
	}
	err := t.locks.WithLock(ctx, lockKey(username), t.lease, t.wait, func(ctx context.Context) error {
		return t.store.Delete(ctx, recordKey(username))
	})
	if err != nil {
		return fmt.Errorf("reset failed count: %w", err)
	}
	return nil
}

// UnlockUser é o override administrativo: limpa o registro independente do contador.
func (t *LockoutTracker) UnlockUser(ctx context.Context, userID string) error {
	if t.users == nil {
		return errors.New("unlock user: no user directory configured")
	}
	username, err := t.users.UsernameByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("unlock user %s: %w", userID, err)
	}
	if err := t.ResetFailedCount(ctx, username); err != nil {
		return fmt.Errorf("unlock user %s: %w", userID, err)
	}
	t.logger.Info("lockout.unlocked", "user_id", userID, "username", normalizeUsername(username))
	return nil
}
