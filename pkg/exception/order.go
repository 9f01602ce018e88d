package exception

import "errors"

var (
	ErrInsufficientCapital    = errors.New("order: insufficient capital")
	ErrOrderUnknown           = errors.New("order: not found")
	ErrOrderDuplicate         = errors.New("order: already exists")
	ErrOrderInvalidTransition = errors.New("order: invalid state transition")
	ErrOrderInvalidQty        = errors.New("order: quantity must be positive")
	ErrOrderInvalidPrice      = errors.New("order: reference price is not positive")
)
