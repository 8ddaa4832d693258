package domain

import "errors"

var (
	// ErrCoordinationUnavailable indica que o store compartilhado não respondeu.
	ErrCoordinationUnavailable = errors.New("coordination store unavailable")
	// ErrLockTimeout indica que o lease não foi obtido dentro da janela de espera.
	ErrLockTimeout = errors.New("lock wait timeout")
	// ErrCancelled indica que o chamador cancelou a espera pelo lease.
	ErrCancelled = errors.New("lock wait cancelled")
	// ErrLockLost indica que o token do handle não confere mais com o store
	// (o lease expirou e outro dono o adquiriu).
	ErrLockLost = errors.New("lock lost")
	// ErrPolicyNotFound: o escopo não tem política de rate limit. Tratado como ilimitado.
	ErrPolicyNotFound = errors.New("rate policy not found")
	// ErrInvalidRule: regra de IP malformada. É ignorada com warning.
	ErrInvalidRule = errors.New("invalid ip rule")
	// ErrUserNotFound: o diretório de usuários não conhece o id informado.
	ErrUserNotFound = errors.New("user not found")
)
