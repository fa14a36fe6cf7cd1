// Package paper provides an in-memory paper-trading gateway.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/quantexec/splitflow/internal/broker"
	"github.com/quantexec/splitflow/internal/types"
)

// Config holds configuration for the paper gateway.
type Config struct {
	StartingCash decimal.Decimal

	// BoardLot is the share quantity orders are rounded down to.
	BoardLot int64

	// RateLimitPerSecond caps order submissions; 0 disables the limit.
	RateLimitPerSecond int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		StartingCash:       decimal.NewFromInt(1_000_000),
		BoardLot:           100,
		RateLimitPerSecond: 10,
	}
}

// Gateway simulates a broker against an in-memory price table. It
// implements the full broker.Gateway contract and supports scripted
// failure injection for exercising retry paths.
type Gateway struct {
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu        sync.RWMutex
	prices    map[string]decimal.Decimal
	positions map[string]int64
	cash      decimal.Decimal
	history   []types.ExecutionResult

	rejectNext  int
	cancelNext  int
	partialNext int
}

// NewGateway creates a paper gateway.
func NewGateway(cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BoardLot <= 0 {
		cfg.BoardLot = 100
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond)
	}

	return &Gateway{
		cfg:       cfg,
		logger:    logger,
		limiter:   limiter,
		now:       time.Now,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]int64),
		cash:      cfg.StartingCash,
	}
}

// SetClock overrides the time source.
func (g *Gateway) SetClock(now func() time.Time) {
	if now != nil {
		g.now = now
	}
}

// SetPrice sets the quoted price for a security.
func (g *Gateway) SetPrice(security string, price decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[security] = price
}

// SetPosition seeds a holding directly, bypassing cash accounting.
func (g *Gateway) SetPosition(security string, qty int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[security] = qty
}

// AdjustCash applies a signed cash adjustment, simulating deposits and
// withdrawals. Withdrawing more than the balance fails.
func (g *Gateway) AdjustCash(amount decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.cash.Add(amount)
	if next.IsNegative() {
		return fmt.Errorf("adjust cash by %s: balance %s insufficient", amount, g.cash)
	}
	g.cash = next
	g.logger.Info("cash adjusted", "amount", amount, "balance", g.cash)
	return nil
}

// RejectNext makes the next n orders come back rejected with no fill.
func (g *Gateway) RejectNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejectNext = n
}

// CancelNext makes the next n orders come back canceled with no fill.
func (g *Gateway) CancelNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelNext = n
}

// PartialNext makes the next n orders fill only half the requested
// shares, rounded to the board lot.
func (g *Gateway) PartialNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.partialNext = n
}

// History returns all execution results so far.
func (g *Gateway) History() []types.ExecutionResult {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]types.ExecutionResult, len(g.history))
	copy(out, g.history)
	return out
}

// Price returns the quoted price for a security.
func (g *Gateway) Price(_ context.Context, security string) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	price, ok := g.prices[security]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", security, types.ErrPriceUnavailable)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%s: %w", security, types.ErrInvalidPrice)
	}
	return price, nil
}

// Position returns the current holding for a security.
func (g *Gateway) Position(_ context.Context, security string) (int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.positions[security], nil
}

// Positions returns all non-zero holdings.
func (g *Gateway) Positions(_ context.Context) (map[string]int64, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[string]int64, len(g.positions))
	for security, qty := range g.positions {
		if qty != 0 {
			out[security] = qty
		}
	}
	return out, nil
}

// Cash returns the current cash balance.
func (g *Gateway) Cash(_ context.Context) (decimal.Decimal, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cash, nil
}

// ExecuteTargetValue moves the holding toward the target market value.
// Buys are additionally capped by available cash; share deltas round
// down to the board lot, except a sell to zero which always clears the
// full holding.
func (g *Gateway) ExecuteTargetValue(ctx context.Context, security string, target decimal.Decimal) (*types.ExecutionResult, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", broker.ErrRateLimited, err)
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if target.IsNegative() {
		return nil, fmt.Errorf("target %s: %w", target, types.ErrInvalidOrderSize)
	}

	price, ok := g.prices[security]
	if !ok || price.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%s: %w", security, types.ErrPriceUnavailable)
	}

	now := g.now()
	if g.rejectNext > 0 {
		g.rejectNext--
		return g.finish(types.ExecutionResult{
			OrderID:    uuid.New().String(),
			Security:   security,
			Status:     types.ExecStatusRejected,
			ExecutedAt: now,
		}), nil
	}
	if g.cancelNext > 0 {
		g.cancelNext--
		return g.finish(types.ExecutionResult{
			OrderID:    uuid.New().String(),
			Security:   security,
			Status:     types.ExecStatusCanceled,
			ExecutedAt: now,
		}), nil
	}

	held := g.positions[security]
	current := price.Mul(decimal.NewFromInt(held))
	deltaShares := g.roundToLot(target.Sub(current).Div(price).IntPart())

	// A sell to zero clears the whole holding regardless of lot size.
	if target.IsZero() {
		deltaShares = -held
	}

	status := types.ExecStatusOK
	if g.partialNext > 0 && deltaShares != 0 {
		g.partialNext--
		deltaShares = g.roundToLot(deltaShares / 2)
		status = types.ExecStatusPartialFill
	}

	if deltaShares > 0 {
		// Cap the buy at what cash covers.
		affordable := g.roundToLot(g.cash.Div(price).IntPart())
		if deltaShares > affordable {
			deltaShares = affordable
			if status == types.ExecStatusOK && deltaShares != 0 {
				status = types.ExecStatusPartialFill
			}
		}
	} else if -deltaShares > held {
		deltaShares = -held
	}

	value := price.Mul(decimal.NewFromInt(deltaShares))
	g.positions[security] = held + deltaShares
	g.cash = g.cash.Sub(value)

	g.logger.Debug("paper fill",
		"security", security,
		"target", target,
		"filled_qty", deltaShares,
		"price", price,
		"cash", g.cash,
	)

	return g.finish(types.ExecutionResult{
		OrderID:      uuid.New().String(),
		Security:     security,
		Status:       status,
		FilledQty:    deltaShares,
		AvgFillPrice: price,
		FilledValue:  value.Abs(),
		ExecutedAt:   now,
	}), nil
}

func (g *Gateway) finish(res types.ExecutionResult) *types.ExecutionResult {
	g.history = append(g.history, res)
	return &res
}

func (g *Gateway) roundToLot(shares int64) int64 {
	lot := g.cfg.BoardLot
	if shares >= 0 {
		return shares / lot * lot
	}
	return -(-shares / lot * lot)
}

var _ broker.Gateway = (*Gateway)(nil)
