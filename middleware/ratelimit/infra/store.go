package infra

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/sirupsen/logrus"
)

// EvictReason diz por que um bucket saiu da tabela.
type EvictReason string

const (
	EvictExpired  EvictReason = "expired"
	EvictCapacity EvictReason = "capacity"
)

// Store é a tabela de token buckets por chave.
//
// A tabela é dividida em shards (lock striping): refill+débito de uma chave
// acontecem sob o lock do seu shard, então duas requisições simultâneas do mesmo
// cliente nunca gastam o mesmo token. Chaves de shards diferentes não disputam lock.
//
// Cada shard mantém a ordem de recência (golang-lru). Como todo Admit atualiza
// lastRefill e a recência juntos, a cauda de cada shard é o seu bucket menos
// recentemente reabastecido. O teto vale para a tabela inteira: quando size
// passa de MaxEntries, sai a cauda mais antiga entre todos os shards.
type Store struct {
	cfg        Config
	capacity   float64
	rate       float64
	maxEntries int64

	shards []*shard
	mask   uint64

	size atomic.Int64
	// evictMu serializa a busca da vítima; nunca é tomado com lock de shard.
	evictMu sync.Mutex

	// sentinel é o bucket compartilhado da SentinelKey. Fica fora da tabela
	// para nunca ser despejado.
	sentinel struct {
		mu sync.Mutex
		b  *bucket
	}

	logger  logrus.FieldLogger
	onEvict func(reason EvictReason, n int)
	now     func() time.Time
}

type shard struct {
	mu  sync.Mutex
	lru *simplelru.LRU
}

type StoreOption func(*Store)

// WithLogger define o logger do janitor.
func WithLogger(l logrus.FieldLogger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithEvictHook é chamado (fora dos locks) a cada despejo, com a quantidade.
func WithEvictHook(fn func(reason EvictReason, n int)) StoreOption {
	return func(s *Store) { s.onEvict = fn }
}

// WithClock troca o relógio usado pelo janitor.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(cfg Config, opts ...StoreOption) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	maxEntries := cfg.MaxEntries()
	n := cfg.Shards
	for n > 1 && n > maxEntries {
		n /= 2
	}

	s := &Store{
		cfg:        cfg,
		capacity:   float64(cfg.Burst),
		rate:       cfg.Rate,
		maxEntries: int64(maxEntries),
		shards:     make([]*shard, n),
		mask:       uint64(n - 1),
		logger:     logrus.StandardLogger(),
		now:        time.Now,
	}
	for i := range s.shards {
		// um shard sozinho comporta a tabela toda; quem limita é size
		lru, err := simplelru.NewLRU(maxEntries, nil)
		if err != nil {
			return nil, fmt.Errorf("create shard %d: %w", i, err)
		}
		s.shards[i] = &shard{lru: lru}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) RPS() float64   { return s.rate }
func (s *Store) Burst() int     { return s.cfg.Burst }
func (s *Store) Config() Config { return s.cfg }

// Admit implementa domain.Limiter.
func (s *Store) Admit(key domain.Key, now time.Time) domain.Decision {
	k := key.Normalize()
	if k == domain.SentinelKey || len(k) > s.cfg.MaxKeyBytes {
		return s.admitSentinel(now)
	}

	sh := s.shardFor(k)
	inserted, shardFull := false, false

	sh.mu.Lock()
	var b *bucket
	if v, ok := sh.lru.Get(string(k)); ok {
		b = v.(*bucket)
	} else {
		b = newBucket(s.capacity, now)
		shardFull = sh.lru.Add(string(k), b)
		inserted = !shardFull
	}
	dec := b.admit(now, s.capacity, s.rate)
	sh.mu.Unlock()

	switch {
	case shardFull:
		// saiu um, entrou um: size não muda
		s.evicted(EvictCapacity, 1)
	case inserted && s.size.Add(1) > s.maxEntries:
		s.evictOldest(string(k))
	}
	dec.Key = k
	return dec
}

// evictOldest remove caudas até size voltar ao teto. A vítima é a cauda com
// lastRefill mais antigo entre os shards; except (a chave recém-criada) é poupada.
func (s *Store) evictOldest(except string) {
	s.evictMu.Lock()
	defer s.evictMu.Unlock()

	for s.size.Load() > s.maxEntries {
		var (
			victim     *shard
			victimKey  interface{}
			victimSeen time.Time
		)
		for _, sh := range s.shards {
			sh.mu.Lock()
			k, v, ok := sh.lru.GetOldest()
			if ok && k != except {
				if lr := v.(*bucket).lastRefill; victim == nil || lr.Before(victimSeen) {
					victim, victimKey, victimSeen = sh, k, lr
				}
			}
			sh.mu.Unlock()
		}
		if victim == nil {
			return
		}

		victim.mu.Lock()
		removed := victim.lru.Remove(victimKey)
		victim.mu.Unlock()
		if removed {
			s.size.Add(-1)
			s.evicted(EvictCapacity, 1)
		}
	}
}

func (s *Store) admitSentinel(now time.Time) domain.Decision {
	s.sentinel.mu.Lock()
	if s.sentinel.b == nil {
		s.sentinel.b = newBucket(s.capacity, now)
	}
	dec := s.sentinel.b.admit(now, s.capacity, s.rate)
	s.sentinel.mu.Unlock()

	dec.Key = domain.SentinelKey
	return dec
}

// Peek devolve o estado do bucket sem reabastecer nem mexer na recência.
func (s *Store) Peek(key domain.Key) (tokens float64, lastRefill time.Time, ok bool) {
	k := key.Normalize()
	if k == domain.SentinelKey || len(k) > s.cfg.MaxKeyBytes {
		s.sentinel.mu.Lock()
		defer s.sentinel.mu.Unlock()
		if s.sentinel.b == nil {
			return 0, time.Time{}, false
		}
		return s.sentinel.b.tokens, s.sentinel.b.lastRefill, true
	}

	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.lru.Peek(string(k))
	if !ok {
		return 0, time.Time{}, false
	}
	b := v.(*bucket)
	return b.tokens, b.lastRefill, true
}

// Len é o número de buckets na tabela (sem contar o sentinel).
func (s *Store) Len() int {
	return int(s.size.Load())
}

// Sweep remove os buckets com lastRefill mais antigo que now-Retention.
// Retorna quantos foram removidos.
func (s *Store) Sweep(now time.Time) int {
	cutoff := now.Add(-s.cfg.Retention)
	removed := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, k := range sh.lru.Keys() {
			v, ok := sh.lru.Peek(k)
			if ok && v.(*bucket).lastRefill.Before(cutoff) {
				sh.lru.Remove(k)
				removed++
			}
		}
		sh.mu.Unlock()
	}

	if removed > 0 {
		s.size.Add(-int64(removed))
		s.evicted(EvictExpired, removed)
	}
	return removed
}

// StartJanitor inicia uma goroutine que roda Sweep a cada SweepEvery.
// Pare cancelando o contexto.
func (s *Store) StartJanitor(ctx DoneContext) {
	if s.cfg.SweepEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cfg.SweepEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := s.Sweep(s.now()); n > 0 {
					s.logger.WithFields(logrus.Fields{"removed": n, "entries": s.Len()}).Debug("rate limit janitor swept idle keys")
				}
			}
		}
	}()
}

// DoneContext é o mínimo necessário de um context.Context para o janitor.
type DoneContext interface {
	Done() <-chan struct{}
}

func (s *Store) shardFor(k domain.Key) *shard {
	return s.shards[xxhash.Sum64String(string(k))&s.mask]
}

func (s *Store) evicted(reason EvictReason, n int) {
	if s.onEvict != nil {
		s.onEvict(reason, n)
	}
}
