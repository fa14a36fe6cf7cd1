// Package broker defines the boundary to the external trading platform.
//
// The scheduler core consumes these capabilities; it never implements
// them. Position and cash state is owned by the platform and only read
// here — all mutation happens as a side effect of ExecuteTargetValue.
package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/types"
)

// Common broker errors.
var (
	ErrNotConnected = errors.New("broker not connected")
	ErrMarketClosed = errors.New("market closed")
	ErrRateLimited  = errors.New("rate limited by broker")
)

// PriceSource returns the latest tradable price for a security at the
// current logical time.
type PriceSource interface {
	Price(ctx context.Context, security string) (decimal.Decimal, error)
}

// Ledger is the read-only view of current holdings and cash.
type Ledger interface {
	// Position returns the held share quantity for a security, 0 if none.
	Position(ctx context.Context, security string) (int64, error)

	// Positions returns all nonzero holdings keyed by security.
	Positions(ctx context.Context) (map[string]int64, error)

	// Cash returns the currently available cash.
	Cash(ctx context.Context) (decimal.Decimal, error)
}

// OrderExecutor is the execution primitive: rebalance a security to a
// target market value. The call is synchronous; transport failures are
// returned as errors, fill outcomes inside the result.
type OrderExecutor interface {
	ExecuteTargetValue(ctx context.Context, security string, target decimal.Decimal) (*types.ExecutionResult, error)
}

// Gateway combines every capability the scheduler core needs.
type Gateway interface {
	PriceSource
	Ledger
	OrderExecutor
}
