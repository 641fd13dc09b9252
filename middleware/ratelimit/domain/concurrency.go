package domain

import "context"

// SlotPool limita quantas requisições ficam em voo ao mesmo tempo no gateway.
//
// Acquire espera por uma vaga até o ctx encerrar. Com ok=true, release deve ser
// chamada exatamente uma vez; com ok=false nada foi adquirido.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
