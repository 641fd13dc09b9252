package infra

import (
	"context"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed  int64 `json:"allowed"`
	Rejected int64 `json:"rejected"`
}

const (
	DefaultMaxRoutes = 256
	DefaultMaxKeys   = 1024

	// OverflowLabel agrupa o que chega depois que o mapa atingiu o teto.
	OverflowLabel = "other"
)

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Rejected++
}

// StatsSnapshot é a foto servida em /stats.
type StatsSnapshot struct {
	Total     Counters            `json:"total"`
	ByRoute   map[string]Counters `json:"by_route"`
	ByKey     map[string]Counters `json:"by_key,omitempty"`
	MaxExcess float64             `json:"max_excess"`
	Since     time.Time           `json:"since"`
}

// MemoryStatsStore guarda contadores em memória, sem expiração.
// Útil para desenvolvimento e para o endpoint /stats de uma instância só.
// Rotas e chaves têm teto de entradas; o excedente vai para OverflowLabel.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	byRoute   map[string]Counters
	byKey     map[string]Counters
	maxExcess float64
	since     time.Time

	trackKeys bool
	maxRoutes int
	maxKeys   int
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

// WithMaxRoutes limita as rotas distintas guardadas (padrão DefaultMaxRoutes).
func WithMaxRoutes(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxRoutes = n
		}
	}
}

// WithMaxKeys limita as chaves distintas guardadas (padrão DefaultMaxKeys).
func WithMaxKeys(n int) MemoryStatsOption {
	return func(s *MemoryStatsStore) {
		if n > 0 {
			s.maxKeys = n
		}
	}
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:   make(map[string]Counters),
		byKey:     make(map[string]Counters),
		since:     time.Now(),
		maxRoutes: DefaultMaxRoutes,
		maxKeys:   DefaultMaxKeys,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Route
	if route == "" {
		route = ev.Method + " " + ev.Path
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	bump(s.byRoute, route, s.maxRoutes, ev.Allowed)
	if s.trackKeys {
		bump(s.byKey, string(ev.Key), s.maxKeys, ev.Allowed)
	}
	if !ev.Allowed && ev.Excess > s.maxExcess {
		s.maxExcess = ev.Excess
	}
	return nil
}

// bump conta em m[label]; com o mapa cheio, labels novos caem em OverflowLabel.
// O mapa nunca passa de limit+1 entradas.
func bump(m map[string]Counters, label string, limit int, allowed bool) {
	if _, ok := m[label]; !ok && len(m) >= limit {
		label = OverflowLabel
	}
	c := m[label]
	c.add(allowed)
	m[label] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Snapshot copia o estado atual.
func (s *MemoryStatsStore) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{
		Total:     s.total,
		ByRoute:   make(map[string]Counters, len(s.byRoute)),
		MaxExcess: s.maxExcess,
		Since:     s.since,
	}
	for k, v := range s.byRoute {
		snap.ByRoute[k] = v
	}
	if s.trackKeys {
		snap.ByKey = make(map[string]Counters, len(s.byKey))
		for k, v := range s.byKey {
			snap.ByKey[k] = v
		}
	}
	return snap
}
