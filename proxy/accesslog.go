package proxy

import (
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/sirupsen/logrus"
)

// WithAccessLog registra uma linha por requisição, inclusive as rejeitadas
// pelo rate limit (status 503).
func WithAccessLog(logger logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote":      r.RemoteAddr,
			"status":      m.Code,
			"bytes":       m.Written,
			"duration_ms": m.Duration.Milliseconds(),
		}).Info("request")
	})
}
