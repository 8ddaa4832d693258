package governance

import (
	"net/http"

	"governance-gateway/middleware/governance/application"
	"governance-gateway/middleware/governance/domain"

	"github.com/oklog/ulid/v2"
	"pkt.systems/pslog"
)

type Options struct {
	Pipeline           application.Pipeline
	ClientIPFn         ClientIPFunc
	TrustedIPHeader    string
	TrustXForwardedFor bool
	// RouteFn define o id de rota do request. Nil: primeiro segmento do path.
	RouteFn             func(r *http.Request) string
	AddRateLimitHeaders bool
	Logger              pslog.Logger
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.ClientIPFn == nil {
		opts.ClientIPFn = DefaultClientIP(opts.TrustedIPHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = pslog.NoopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-Id")
			if reqID == "" {
				reqID = ulid.Make().String()
				r.Header.Set("X-Request-Id", reqID)
			}
			w.Header().Set("X-Request-Id", reqID)

			q := r.URL.Query()
			meta := domain.RequestMeta{
				ClientIP: opts.ClientIPFn(r),
				Host:     r.Host,
				Method:   r.Method,
				Path:     r.URL.Path,
				Header:   r.Header.Get,
				Query:    q.Get,
			}
			if opts.RouteFn != nil {
				meta.RouteID = opts.RouteFn(r)
			}

			dec := opts.Pipeline.Evaluate(r.Context(), meta)
			if dec.Err != nil {
				opts.Logger.Warn("governance.coordination.degraded",
					"request_id", reqID, "stage", dec.Stage, "allowed", dec.Allowed, "error", dec.Err)
			}

			if opts.AddRateLimitHeaders && dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatInt64(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt64(max(dec.Remaining, 0)))
			}
			// o upstream só vê o tenant resolvido aqui, nunca o enviado pelo cliente
			r.Header.Del("X-Governance-Tenant")
			if dec.Scope.TenantID != "" {
				r.Header.Set("X-Governance-Tenant", dec.Scope.TenantID)
			}

			if !dec.Allowed {
				writeDenied(w, dec)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// StatusFor traduz a etapa que bloqueou para o status HTTP.
func StatusFor(dec domain.Decision) int {
	switch dec.Stage {
	case domain.StageIP:
		if dec.Err != nil {
			return http.StatusServiceUnavailable
		}
		return http.StatusForbidden
	case domain.StageRate:
		if dec.Err != nil {
			return http.StatusServiceUnavailable
		}
		return http.StatusTooManyRequests
	case domain.StageLockout:
		return http.StatusLocked
	default:
		return http.StatusServiceUnavailable
	}
}

func writeDenied(w http.ResponseWriter, dec domain.Decision) {
	status := StatusFor(dec)
	if dec.RetryAfter > 0 && status != http.StatusForbidden {
		w.Header().Set("Retry-After", retryAfterSeconds(dec.RetryAfter))
	}
	http.Error(w, http.StatusText(status), status)
}

// statusWriter guarda o status devolvido pelo upstream.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap expõe o writer original para http.ResponseController (Flush, deadlines).
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

