package application

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Service aplica o rate limit a uma chave, usando o relógio da aplicação.
//
// Não sabe nada de HTTP (status/headers): só devolve a decisão.
type Service struct {
	Limiter domain.Limiter
	// RetryAfter é o piso para o Retry-After de uma rejeição. 0 = sem piso.
	RetryAfter time.Duration
	// Now é o relógio; nil usa time.Now (monotônico).
	Now func() time.Time
}

func (s Service) Decide(key domain.Key) domain.Decision {
	if s.Limiter == nil {
		return domain.Decision{Allowed: true, Key: key.Normalize()}
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	dec := s.Limiter.Admit(key, now())
	if !dec.Allowed && dec.RetryAfter < s.RetryAfter {
		dec.RetryAfter = s.RetryAfter
	}
	return dec
}
