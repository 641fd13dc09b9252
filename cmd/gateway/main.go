package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cfg := config{}
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Reverse proxy with per-client token bucket admission control",
		Long: `gateway admits each request against a token bucket keyed by client
(IP, X-Forwarded-For or a configured header) and proxies admitted requests to
the upstream whose path prefix matches. Rejected requests get a 503 with
Retry-After and never reach an upstream.

Every flag defaults to the environment variable named in brackets.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	bindFlags(cmd.Flags(), &cfg)
	return cmd
}

func run(parent context.Context, cfg config) error {
	if parent == nil {
		parent = context.Background()
	}
	logger := cfg.newLogger()

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gw, err := buildGateway(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer func() {
		if err := gw.Close(); err != nil {
			logger.WithError(err).Warn("closing gateway resources")
		}
	}()
	if gw.store != nil {
		gw.store.StartJanitor(ctx)
	}

	servers := []*http.Server{newServer(cfg.listenAddr, gw.handler)}
	if cfg.statusAddr != "" {
		servers = append(servers, newServer(cfg.statusAddr, gw.status))
	}

	logger.WithFields(logrus.Fields{
		"listen":  cfg.listenAddr,
		"status":  cfg.statusAddr,
		"mapping": cfg.mappingFile,
	}).Info("gateway starting")
	logger.WithFields(logrus.Fields{
		"enabled":     cfg.rateEnabled,
		"rps":         cfg.rateRPS,
		"burst":       cfg.rateBurst,
		"max_entries": cfg.storeConfig().MaxEntries(),
		"retention":   cfg.rateRetention,
		"key_header":  cfg.rateKeyHeader,
		"trust_xff":   cfg.trustXFF,
	}).Info("rate limit")
	logger.WithFields(logrus.Fields{
		"enabled":    cfg.rateStatsEnabled,
		"redis_addr": cfg.rateStatsRedisAddr,
		"bucket":     cfg.rateStatsBucket,
		"ttl":        cfg.rateStatsTTL,
		"track_keys": cfg.rateStatsTrackKeys,
	}).Info("rate stats")
	logger.WithFields(logrus.Fields{
		"max":             cfg.concurrencyMax,
		"acquire_timeout": cfg.concurrencyTimeout,
	}).Info("concurrency")

	eg, egCtx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		eg.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var firstErr error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		logger.Info("gateway stopped")
		return firstErr
	})

	if err := eg.Wait(); err != nil {
		logger.WithError(err).Error("server error")
		return err
	}
	return nil
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
