package infra

import (
	"context"
	"sync/atomic"

	"admission-gateway/middleware/ratelimit/domain"
)

// ChanPool é um semáforo baseado em channel com capacidade fixa.
type ChanPool struct {
	sem   chan struct{}
	inUse atomic.Int64
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria um pool com `max` vagas.
func NewChanPool(max int) *ChanPool {
	return &ChanPool{sem: make(chan struct{}, max)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, false
	}

	p.inUse.Add(1)
	var released atomic.Bool
	return func() {
		if released.CompareAndSwap(false, true) {
			p.inUse.Add(-1)
			<-p.sem
		}
	}, true
}

// InUse é quantas vagas estão ocupadas agora.
func (p *ChanPool) InUse() int64 { return p.inUse.Load() }

// Cap é o total de vagas.
func (p *ChanPool) Cap() int { return cap(p.sem) }
