package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/infra"
	"admission-gateway/proxy"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

type config struct {
	listenAddr  string
	statusAddr  string
	mappingFile string
	webURL      string
	apiURL      string

	rateEnabled    bool
	rateRPS        float64
	rateBurst      int
	rateZoneSize   int64
	rateRetention  time.Duration
	rateSweepEvery time.Duration
	rateShards     int
	rateMaxKeyLen  int
	rateKeyHeader  string
	trustXFF       bool
	retryAfter     time.Duration
	addHeaders     bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	rateStatsEnabled       bool
	rateStatsRedisAddr     string
	rateStatsRedisPassword string
	rateStatsRedisDB       int
	rateStatsPrefix        string
	rateStatsTTL           time.Duration
	rateStatsBucket        string
	rateStatsTrackKeys     bool

	logLevel  string
	logFormat string
	accessLog bool
}

// bindFlags registra as flags. O padrão de cada uma vem da variável de ambiente
// correspondente, então flag > env > padrão fixo.
func bindFlags(fs *pflag.FlagSet, cfg *config) {
	fs.StringVar(&cfg.listenAddr, "listen-address", getenvDefault("LISTEN_ADDR", ":8080"), "Address the gateway listens on [LISTEN_ADDR]")
	fs.StringVar(&cfg.statusAddr, "status-address", getenvDefault("STATUS_ADDR", ":9090"), "Address for /healthz, /metrics and /stats; empty disables [STATUS_ADDR]")
	fs.StringVar(&cfg.mappingFile, "mapping-file", os.Getenv("MAPPING_FILE"), "YAML file mapping path prefixes to upstreams [MAPPING_FILE]")
	fs.StringVar(&cfg.webURL, "upstream-web", os.Getenv("UPSTREAM_WEB_URL"), "Upstream for / when no mapping file is given [UPSTREAM_WEB_URL]")
	fs.StringVar(&cfg.apiURL, "upstream-api", os.Getenv("UPSTREAM_API_URL"), "Upstream for /api/ when no mapping file is given [UPSTREAM_API_URL]")

	fs.BoolVar(&cfg.rateEnabled, "rate-enabled", getenvBoolDefault("RATE_ENABLED", true), "Enable per-client rate limiting [RATE_ENABLED]")
	fs.Float64Var(&cfg.rateRPS, "rate", getenvFloatDefault("RATE_RPS", infra.DefaultRate), "Tokens refilled per second per client [RATE_RPS]")
	fs.IntVar(&cfg.rateBurst, "burst", getenvIntDefault("RATE_BURST", infra.DefaultBurst), "Bucket capacity per client [RATE_BURST]")
	fs.Int64Var(&cfg.rateZoneSize, "zone-size", getenvInt64Default("RATE_ZONE_SIZE", infra.DefaultZoneSizeBytes), "Memory budget in bytes; bounds the number of tracked clients [RATE_ZONE_SIZE]")
	fs.DurationVar(&cfg.rateRetention, "retention", getenvDurationDefault("RATE_RETENTION", infra.DefaultRetention), "Idle time after which a client bucket is dropped [RATE_RETENTION]")
	fs.DurationVar(&cfg.rateSweepEvery, "sweep-every", getenvDurationDefault("RATE_SWEEP_EVERY", infra.DefaultSweepEvery), "Interval between idle bucket sweeps [RATE_SWEEP_EVERY]")
	fs.IntVar(&cfg.rateShards, "shards", getenvIntDefault("RATE_SHARDS", infra.DefaultShards), "Lock stripes of the bucket table, power of two [RATE_SHARDS]")
	fs.IntVar(&cfg.rateMaxKeyLen, "max-key-bytes", getenvIntDefault("RATE_MAX_KEY_BYTES", infra.DefaultMaxKeyBytes), "Longer client keys share the \"unknown\" bucket [RATE_MAX_KEY_BYTES]")
	fs.StringVar(&cfg.rateKeyHeader, "key-header", os.Getenv("RATE_KEY_HEADER"), "Header holding the client key; empty uses the client IP [RATE_KEY_HEADER]")
	fs.BoolVar(&cfg.trustXFF, "trust-xff", getenvBoolDefault("TRUST_XFF", false), "Use the first X-Forwarded-For hop as client IP [TRUST_XFF]")
	fs.DurationVar(&cfg.retryAfter, "retry-after", getenvDurationDefault("RETRY_AFTER", 0), "Minimum Retry-After sent on rejection [RETRY_AFTER]")
	fs.BoolVar(&cfg.addHeaders, "ratelimit-headers", getenvBoolDefault("ADD_RATELIMIT_HEADERS", false), "Send X-RateLimit-* headers [ADD_RATELIMIT_HEADERS]")

	fs.IntVar(&cfg.concurrencyMax, "concurrency-max", getenvIntDefault("CONCURRENCY_MAX", 100), "Max in-flight requests; 0 disables [CONCURRENCY_MAX]")
	fs.DurationVar(&cfg.concurrencyTimeout, "concurrency-timeout", getenvDurationDefault("CONCURRENCY_TIMEOUT", 0), "How long to wait for an in-flight slot; 0 waits for the client [CONCURRENCY_TIMEOUT]")

	fs.BoolVar(&cfg.rateStatsEnabled, "stats-redis", getenvBoolDefault("RATE_STATS_ENABLED", false), "Aggregate decisions in Redis [RATE_STATS_ENABLED]")
	fs.StringVar(&cfg.rateStatsRedisAddr, "stats-redis-addr", os.Getenv("RATE_STATS_REDIS_ADDR"), "Redis address [RATE_STATS_REDIS_ADDR]")
	cfg.rateStatsRedisPassword = os.Getenv("RATE_STATS_REDIS_PASSWORD")
	fs.IntVar(&cfg.rateStatsRedisDB, "stats-redis-db", getenvIntDefault("RATE_STATS_REDIS_DB", 0), "Redis database [RATE_STATS_REDIS_DB]")
	fs.StringVar(&cfg.rateStatsPrefix, "stats-prefix", getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats"), "Redis key prefix [RATE_STATS_PREFIX]")
	fs.DurationVar(&cfg.rateStatsTTL, "stats-ttl", getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour), "TTL of per-minute and per-client keys [RATE_STATS_TTL]")
	fs.StringVar(&cfg.rateStatsBucket, "stats-bucket", getenvDefault("RATE_STATS_BUCKET", "minute"), "Time bucketing: minute or none [RATE_STATS_BUCKET]")
	fs.BoolVar(&cfg.rateStatsTrackKeys, "stats-track-keys", getenvBoolDefault("RATE_STATS_TRACK_KEYS", false), "Count per client key (watch cardinality) [RATE_STATS_TRACK_KEYS]")

	fs.StringVar(&cfg.logLevel, "log-level", getenvDefault("LOG_LEVEL", "info"), "Log level [LOG_LEVEL]")
	fs.StringVar(&cfg.logFormat, "log-format", getenvDefault("LOG_FORMAT", "text"), "Log format: text or json [LOG_FORMAT]")
	fs.BoolVar(&cfg.accessLog, "access-log", getenvBoolDefault("ACCESS_LOG", false), "Log every request [ACCESS_LOG]")
}

func (cfg config) storeConfig() infra.Config {
	return infra.Config{
		Rate:          cfg.rateRPS,
		Burst:         cfg.rateBurst,
		ZoneSizeBytes: cfg.rateZoneSize,
		Retention:     cfg.rateRetention,
		SweepEvery:    cfg.rateSweepEvery,
		Shards:        cfg.rateShards,
		MaxKeyBytes:   cfg.rateMaxKeyLen,
	}
}

// mappings resolve as rotas: arquivo, se houver; senão as URLs web/api.
func (cfg config) mappings() ([]proxy.PathMapping, error) {
	if cfg.mappingFile != "" {
		return proxy.LoadMappings(cfg.mappingFile)
	}
	return proxy.DefaultMappings(cfg.webURL, cfg.apiURL), nil
}

func (cfg config) validate() error {
	var err error
	if cfg.mappingFile == "" && cfg.webURL == "" && cfg.apiURL == "" {
		err = multierr.Append(err, errors.New("one of --mapping-file, --upstream-web or --upstream-api is required"))
	}
	if cfg.rateEnabled {
		err = multierr.Append(err, cfg.storeConfig().Validate())
	}
	if cfg.concurrencyMax < 0 {
		err = multierr.Append(err, errors.New("CONCURRENCY_MAX must be >= 0"))
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		err = multierr.Append(err, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true"))
	}
	if _, lerr := logrus.ParseLevel(cfg.logLevel); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("LOG_LEVEL: %w", lerr))
	}
	if cfg.logFormat != "text" && cfg.logFormat != "json" {
		err = multierr.Append(err, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.logFormat))
	}
	return err
}

func (cfg config) newLogger() *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.logLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if cfg.logFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvInt64Default(k string, def int64) int64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
