package domain

import "time"

// LockHandle representa um lease em posse de quem o adquiriu.
//
// Pertence à pilha de chamada que adquiriu; não deve ser compartilhado entre goroutines.
type LockHandle struct {
	Key       string
	Token     string
	ExpiresAt time.Time
}

// Expired informa se o lease já passou do vencimento em `now`.
func (h *LockHandle) Expired(now time.Time) bool {
	return h == nil || !now.Before(h.ExpiresAt)
}
