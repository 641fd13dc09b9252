package domain

import (
	"context"
	"time"
)

// StatsEvent registra uma decisão de admissão.
//
// Method/Path são strings genéricas, sem amarrar em HTTP.
// Cuidado com cardinalidade ao persistir Key/Path.
type StatsEvent struct {
	Key     Key
	Allowed bool
	Excess  float64

	Method string
	Path   string
	// Route é o rótulo de baixa cardinalidade (ex.: "GET /api/"). Vazio: Method+Path.
	Route string

	At time.Time
}

// StatsStore persiste estatísticas de admissão (memória, Redis...).
// Quem chama trata o erro como best-effort: estatística nunca derruba request.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
