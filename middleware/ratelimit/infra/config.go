package infra

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
)

const (
	DefaultRate          = 30.0
	DefaultBurst         = 50
	DefaultZoneSizeBytes = 10 << 20
	DefaultRetention     = 60 * time.Second
	DefaultSweepEvery    = 5 * time.Second
	DefaultShards        = 64
	DefaultMaxKeyBytes   = 256

	// stateBytes é o custo contabilizado por chave: 1 MiB guarda ~16 mil estados.
	stateBytes = 64
)

// Config é a zona de rate limit: única, lida uma vez na inicialização e
// imutável depois disso. Rate e Burst valem para todas as chaves.
type Config struct {
	// Rate é o reabastecimento em tokens por segundo.
	Rate float64
	// Burst é a capacidade do bucket (rajada absorvida sem atraso).
	Burst int
	// ZoneSizeBytes limita a tabela; o teto de entradas é ZoneSizeBytes/64.
	ZoneSizeBytes int64
	// Retention é por quanto tempo um bucket ocioso sobrevive ao janitor.
	Retention time.Duration
	// SweepEvery é o intervalo do janitor. 0 desliga o janitor.
	SweepEvery time.Duration
	// Shards precisa ser potência de 2.
	Shards int
	// MaxKeyBytes: chaves maiores degradam para a SentinelKey.
	MaxKeyBytes int
}

func DefaultConfig() Config {
	return Config{
		Rate:          DefaultRate,
		Burst:         DefaultBurst,
		ZoneSizeBytes: DefaultZoneSizeBytes,
		Retention:     DefaultRetention,
		SweepEvery:    DefaultSweepEvery,
		Shards:        DefaultShards,
		MaxKeyBytes:   DefaultMaxKeyBytes,
	}
}

// MaxEntries é o teto de buckets derivado do tamanho da zona.
func (c Config) MaxEntries() int {
	n := c.ZoneSizeBytes / stateBytes
	if n < 1 {
		return 1
	}
	return int(n)
}

// FullRefill é o tempo para um bucket vazio voltar à capacidade total.
func (c Config) FullRefill() time.Duration {
	if c.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(c.Burst) / c.Rate * float64(time.Second))
}

// Validate devolve todas as violações de uma vez.
func (c Config) Validate() error {
	var err error
	if c.Rate <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: rate must be > 0, got %v", ErrInvalidConfig, c.Rate))
	}
	if c.Burst <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: burst must be > 0, got %d", ErrInvalidConfig, c.Burst))
	}
	if c.ZoneSizeBytes < stateBytes {
		err = multierr.Append(err, fmt.Errorf("%w: zone size must be >= %d bytes, got %d", ErrInvalidConfig, stateBytes, c.ZoneSizeBytes))
	}
	// um bucket vivo não pode ser despejado antes de ter tido tempo de encher
	if c.Rate > 0 && c.Burst > 0 && c.Retention <= c.FullRefill() {
		err = multierr.Append(err, fmt.Errorf("%w: retention %s must exceed full refill time %s", ErrInvalidConfig, c.Retention, c.FullRefill()))
	}
	if c.SweepEvery < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: sweep interval must be >= 0, got %s", ErrInvalidConfig, c.SweepEvery))
	}
	if c.Shards <= 0 || c.Shards&(c.Shards-1) != 0 {
		err = multierr.Append(err, fmt.Errorf("%w: shards must be a power of two, got %d", ErrInvalidConfig, c.Shards))
	}
	if c.MaxKeyBytes <= 0 {
		err = multierr.Append(err, fmt.Errorf("%w: max key bytes must be > 0, got %d", ErrInvalidConfig, c.MaxKeyBytes))
	}
	return err
}
