package ratelimit

import (
	"net"
	"net/http"
	"strings"

	"admission-gateway/middleware/ratelimit/domain"
)

type KeyFunc func(r *http.Request) string

// DefaultKeyFunc extrai a chave do cliente nesta ordem: header configurado,
// primeiro IP do X-Forwarded-For (só se confiável), host do RemoteAddr e, por
// fim, a SentinelKey.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		if host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr)); err == nil && host != "" {
			return host
		}
		if v := strings.TrimSpace(r.RemoteAddr); v != "" {
			return v
		}
		return string(domain.SentinelKey)
	}
}
