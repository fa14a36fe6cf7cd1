package types

import "errors"

// Sentinel errors for the order scheduler.
var (
	// Pricing errors
	ErrPriceUnavailable = errors.New("price unavailable")
	ErrInvalidPrice     = errors.New("invalid price value")

	// Leg contract errors
	ErrNoTarget         = errors.New("leg has neither value delta nor sell-all set")
	ErrAlreadyExecuted  = errors.New("leg already executed")
	ErrInvalidOrderSize = errors.New("invalid order size")

	// Validation errors
	ErrInvalidConfig = errors.New("invalid configuration")
)
