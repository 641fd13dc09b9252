package ratelimit

import (
	"net/http"
	"time"

	"admission-gateway/metrics"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Options struct {
	Limiter domain.Limiter
	Stats   domain.StatsStore
	Metrics *metrics.Metrics
	Logger  logrus.FieldLogger

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	// RouteFn rotula a requisição nas estatísticas. Deve devolver um conjunto
	// pequeno e fixo (ex.: a rota casada), nunca o path cru.
	RouteFn func(r *http.Request) string

	// RejectStatus padrão: 503, igual para todo excesso.
	RejectStatus int
	// RetryAfter é o piso do header Retry-After.
	RetryAfter          time.Duration
	AddRateLimitHeaders bool

	// RejectLogEvery limita os logs de rejeição a um a cada intervalo.
	RejectLogEvery time.Duration
	Now            func() time.Time
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.RejectLogEvery <= 0 {
		opts.RejectLogEvery = time.Second
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	svc := application.Service{
		Limiter:    opts.Limiter,
		RetryAfter: opts.RetryAfter,
		Now:        now,
	}
	rejectLog := &rate.Sometimes{Interval: opts.RejectLogEvery}
	statsErrLog := &rate.Sometimes{Interval: opts.RejectLogEvery}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			dec := svc.Decide(domain.Key(opts.KeyFn(r)))
			opts.Metrics.ObserveDecision(dec.Allowed)

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     dec.Key,
					Allowed: dec.Allowed,
					Excess:  dec.Excess,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      now(),
				}
				if opts.RouteFn != nil {
					ev.Route = opts.RouteFn(r)
				}
				err := opts.Stats.Record(r.Context(), ev)
				if err != nil {
					statsErrLog.Do(func() {
						opts.Logger.WithError(err).Warn("rate-stats record failed")
					})
				}
			}

			if opts.AddRateLimitHeaders {
				h := w.Header()
				h.Set("X-RateLimit-Key", string(dec.Key))
				h.Set("X-RateLimit-Remaining", formatInt(int(dec.Remaining)))
				if ri, ok := opts.Limiter.(rateInfo); ok {
					h.Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					h.Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
			}

			if !dec.Allowed {
				rejectLog.Do(func() {
					opts.Logger.WithFields(logrus.Fields{
						"key":    dec.Key,
						"excess": formatFloat(dec.Excess),
						"method": r.Method,
						"path":   r.URL.Path,
					}).Warn("limiting requests")
				})
				w.Header().Set("Retry-After", formatSeconds(dec.RetryAfter))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
