package exception

import "errors"

var (
	ErrInvalidConfig    = errors.New("config: invalid value")
	ErrUnknownIndicator = errors.New("config: unknown indicator kind")
	ErrUnknownStrategy  = errors.New("config: unknown strategy")
	ErrInvalidParams    = errors.New("config: invalid parameters")
)
