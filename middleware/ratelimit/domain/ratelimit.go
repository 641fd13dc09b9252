package domain

import (
	"strings"
	"time"
)

// Key identifica o cliente dono de um bucket (IP, API key, usuário...).
type Key string

// SentinelKey é a chave curinga usada quando a chave do cliente é vazia ou
// não consegue espaço na tabela. Todos que caem nela compartilham um bucket.
const SentinelKey Key = "unknown"

// Normalize remove espaços e troca chave vazia pela SentinelKey.
func (k Key) Normalize() Key {
	v := strings.TrimSpace(string(k))
	if v == "" {
		return SentinelKey
	}
	return Key(v)
}

// Limiter decide, para uma chave e um instante, se a requisição entra.
//
// Admit nunca bloqueia nem faz I/O: é uma operação em memória, de tempo limitado,
// própria para o caminho quente da requisição.
type Limiter interface {
	Admit(key Key, now time.Time) Decision
}

// Decision é o resultado de Admit. Rejeitar não é falha: é um resultado esperado.
type Decision struct {
	Allowed bool

	// Key é a chave efetivamente usada (após normalização/degradação).
	Key Key

	// Remaining são os tokens que sobraram no bucket após a decisão.
	Remaining float64

	// Excess é quanto faltou para 1 token (1 - tokens). Só é preenchido na rejeição.
	Excess float64

	// RetryAfter é o tempo até o próximo token. Zero quando permitido.
	RetryAfter time.Duration
}
