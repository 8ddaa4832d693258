package governance

import (
	"net"
	"net/http"
	"strings"
)

type ClientIPFunc func(r *http.Request) string

// DefaultClientIP extrai o IP do cliente.
//
// Ordem: header confiável (ex: X-Real-IP, setado pelo LB) -> primeiro IP do
// X-Forwarded-For (se trustXFF) -> host do RemoteAddr.
func DefaultClientIP(trustedHeader string, trustXFF bool) ClientIPFunc {
	return func(r *http.Request) string {
		if trustedHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(trustedHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}
