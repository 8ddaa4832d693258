package governance

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"governance-gateway/middleware/governance/application"

	"pkt.systems/pslog"
)

type LoginOptions struct {
	Pipeline application.Pipeline
	// UsernameField é o campo do corpo (JSON ou form) com o username. Padrão "username".
	UsernameField string
	// FailureStatuses são os status do upstream que contam como falha. Padrão 401.
	FailureStatuses []int
	MaxBodyBytes    int64
	Logger          pslog.Logger
}

// LoginGuard protege a rota de login.
//
// Antes do upstream: conta em lockout recebe 423 + Retry-After.
// Depois do upstream: 2xx zera o contador; status de falha registra a falha.
// A autenticação em si é do upstream; aqui só observamos o resultado.
func LoginGuard(opts LoginOptions) func(next http.Handler) http.Handler {
	if opts.UsernameField == "" {
		opts.UsernameField = "username"
	}
	if len(opts.FailureStatuses) == 0 {
		opts.FailureStatuses = []int{http.StatusUnauthorized}
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 10
	}
	if opts.Logger == nil {
		opts.Logger = pslog.NoopLogger()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost || r.Body == nil {
				next.ServeHTTP(w, r)
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, opts.MaxBodyBytes+1))
			_ = r.Body.Close()
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			if int64(len(body)) > opts.MaxBodyBytes {
				http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			username := extractUsername(r.Header.Get("Content-Type"), body, opts.UsernameField)
			if username == "" {
				next.ServeHTTP(w, r)
				return
			}

			if dec := opts.Pipeline.CheckLogin(r.Context(), username); !dec.Allowed {
				writeDenied(w, dec)
				return
			} else if dec.Err != nil {
				opts.Logger.Warn("login.check.degraded", "error", dec.Err)
			}

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)

			// o cliente pode ter desconectado; o registro precisa acontecer mesmo assim
			ctx := context.WithoutCancel(r.Context())
			code := sw.code
			if code == 0 {
				code = http.StatusOK
			}
			switch {
			case code >= 200 && code < 300:
				if err := opts.Pipeline.LoginSucceeded(ctx, username); err != nil {
					opts.Logger.Warn("login.reset.failed", "error", err)
				}
			case slices.Contains(opts.FailureStatuses, code):
				res, err := opts.Pipeline.LoginFailed(ctx, username)
				if err != nil {
					opts.Logger.Warn("login.failure.not_recorded", "error", err)
					return
				}
				if res.Locked {
					opts.Logger.Info("login.account.locked", "count", res.Count, "until", res.LockoutEnd)
				}
			}
		})
	}
}

func extractUsername(contentType string, body []byte, field string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "application/json":
		var m map[string]any
		if err := json.Unmarshal(body, &m); err != nil {
			return ""
		}
		v, _ := m[field].(string)
		return strings.TrimSpace(v)
	case "application/x-www-form-urlencoded":
		vals, err := url.ParseQuery(string(body))
		if err != nil {
			return ""
		}
		return strings.TrimSpace(vals.Get(field))
	}
	return ""
}
