package infra

import (
	"math"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// bucket guarda só o estado por chave; capacidade e taxa são da zona.
// Não é thread-safe: quem chama segura o lock do shard.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

func newBucket(capacity float64, now time.Time) *bucket {
	return &bucket{tokens: capacity, lastRefill: now}
}

// admit reabastece pelo tempo decorrido e tenta debitar 1 token.
// Na rejeição os tokens ficam como estão.
func (b *bucket) admit(now time.Time, capacity, rate float64) domain.Decision {
	if now.After(b.lastRefill) {
		elapsed := now.Sub(b.lastRefill).Seconds()
		b.tokens = math.Min(capacity, b.tokens+elapsed*rate)
		b.lastRefill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return domain.Decision{Allowed: true, Remaining: b.tokens}
	}

	excess := 1 - b.tokens
	return domain.Decision{
		Allowed:    false,
		Remaining:  b.tokens,
		Excess:     excess,
		RetryAfter: time.Duration(math.Ceil(excess / rate * float64(time.Second))),
	}
}
