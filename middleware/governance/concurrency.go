package governance

import (
	"net/http"
	"time"

	"governance-gateway/middleware/governance/application"
	"governance-gateway/middleware/governance/infra"
)

type ConcurrencyOptions struct {
	Max            int
	AcquireTimeout time.Duration
	RetryAfter     time.Duration
}

// ConcurrencyMiddleware limita requests em voo nesta instância (503 quando não há vaga).
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	adm := application.Admission{
		Pool:           infra.NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
		RetryAfter:     opts.RetryAfter,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, dec := adm.Admit(r.Context())
			if !dec.Allowed {
				writeDenied(w, dec)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
