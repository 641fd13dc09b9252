package infra

import "errors"

// ErrInvalidConfig é retornado (embrulhado) por Config.Validate.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")
