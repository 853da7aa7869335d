package arbitrage

import "errors"

var (
	// ErrInsufficientDepth means the order book ran out before the leg amount was covered.
	ErrInsufficientDepth = errors.New("insufficient order book depth")
	// ErrOrderVanished means an order left the open orders list without any trades.
	ErrOrderVanished = errors.New("order vanished without trades")
	// ErrOrderSubmission means the exchange rejected an order after its record was created.
	ErrOrderSubmission = errors.New("order submission failed")
	ErrInvalidAmount   = errors.New("trading amount must be positive")
)
