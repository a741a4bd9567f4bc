package orderbook

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrSameToken         = errors.New("fromToken and toToken must differ")
	ErrMissingToken      = errors.New("fromToken and toToken are required")
	ErrInvalidAmount     = errors.New("amount must be a non-negative decimal")
	ErrInvalidTransition = errors.New("invalid order status transition")
)
