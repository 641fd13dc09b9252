package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"admission-gateway/metrics"
	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
	"admission-gateway/proxy"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// gateway junta as peças montadas a partir da config. handler atende o
// tráfego; status atende /healthz, /metrics e /stats em outra porta.
type gateway struct {
	handler http.Handler
	status  http.Handler
	store   *infra.Store
	local   *infra.MemoryStatsStore
	redis   *infra.RedisStatsStore
	closers []io.Closer
}

func buildGateway(ctx context.Context, cfg config, logger logrus.FieldLogger, reg *prometheus.Registry) (*gateway, error) {
	m := metrics.New(reg)
	g := &gateway{local: infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.rateStatsTrackKeys))}

	if cfg.rateEnabled {
		store, err := infra.NewStore(cfg.storeConfig(),
			infra.WithLogger(logger),
			infra.WithEvictHook(func(reason infra.EvictReason, n int) {
				m.ObserveEvictions(string(reason), n)
			}),
		)
		if err != nil {
			return nil, err
		}
		g.store = store
		m.TrackGauge("ratelimit_entries", "Client buckets currently tracked.", func() float64 {
			return float64(store.Len())
		})
	}

	if cfg.rateStatsEnabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.rateStatsRedisAddr,
			Password: cfg.rateStatsRedisPassword,
			DB:       cfg.rateStatsRedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis stats ping: %w", err)
		}
		g.closers = append(g.closers, rdb)
		g.redis = infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		)
	}

	mappings, err := cfg.mappings()
	if err != nil {
		g.Close()
		return nil, err
	}
	router, err := proxy.NewRouter(mappings, proxy.WithLogger(logger), proxy.WithMetrics(m))
	if err != nil {
		g.Close()
		return nil, err
	}

	h := http.Handler(router)
	h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		AcquireTimeout: cfg.concurrencyTimeout,
		Metrics:        m,
	})(h)
	if g.store != nil {
		h = ratelimit.Middleware(ratelimit.Options{
			Limiter:             g.store,
			Stats:               g.statsStore(),
			Metrics:             m,
			Logger:              logger,
			RouteFn:             routeLabel(router),
			KeyHeader:           cfg.rateKeyHeader,
			TrustXForwardedFor:  cfg.trustXFF,
			RetryAfter:          cfg.retryAfter,
			AddRateLimitHeaders: cfg.addHeaders,
		})(h)
	}
	if cfg.accessLog {
		h = proxy.WithAccessLog(logger, h)
	}
	g.handler = h

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok\n")
	})
	mux.Handle("/metrics", metrics.Handler(reg))
	mux.HandleFunc("/stats", g.serveStats(logger))
	g.status = mux

	return g, nil
}

// routeLabel rotula pela rota casada, então as estatísticas têm no máximo uma
// entrada por mapping e método.
func routeLabel(rt *proxy.Router) func(r *http.Request) string {
	return func(r *http.Request) string {
		if m, ok := rt.Match(r.URL.Path); ok {
			return r.Method + " " + m.Path
		}
		return r.Method + " (unmatched)"
	}
}

func (g *gateway) statsStore() domain.StatsStore {
	if g.redis == nil {
		return g.local
	}
	return teeStats{g.local, g.redis}
}

type statsReport struct {
	Table *tableReport        `json:"table,omitempty"`
	Local infra.StatsSnapshot `json:"local"`
	Redis *infra.Counters     `json:"redis,omitempty"`
}

type tableReport struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Rate       float64 `json:"rate"`
	Burst      int     `json:"burst"`
}

func (g *gateway) serveStats(logger logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := statsReport{Local: g.local.Snapshot()}
		if g.store != nil {
			cfg := g.store.Config()
			rep.Table = &tableReport{
				Entries:    g.store.Len(),
				MaxEntries: cfg.MaxEntries(),
				Rate:       cfg.Rate,
				Burst:      cfg.Burst,
			}
		}
		if g.redis != nil {
			totals, err := g.redis.Totals(r.Context())
			if err != nil {
				logger.WithError(err).Warn("reading rate-stats from redis failed")
			} else {
				rep.Redis = &totals
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(rep); err != nil {
			logger.WithError(err).Warn("writing /stats response failed")
		}
	}
}

func (g *gateway) Close() error {
	var err error
	for _, c := range g.closers {
		err = multierr.Append(err, c.Close())
	}
	g.closers = nil
	return err
}

// teeStats grava o evento em todos os stores; uma falha não impede os outros.
type teeStats []domain.StatsStore

func (t teeStats) Record(ctx context.Context, ev domain.StatsEvent) error {
	var err error
	for _, s := range t {
		err = multierr.Append(err, s.Record(ctx, ev))
	}
	return err
}
