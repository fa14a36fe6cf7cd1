package split

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/types"
)

// mockGateway is an in-memory gateway for tests. Successful executions
// update positions so multi-leg scenarios see consistent account state.
type mockGateway struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	positions map[string]int64
	cash      decimal.Decimal

	calls   []execCall
	rejects int
	execErr error
}

type execCall struct {
	security string
	target   decimal.Decimal
}

func newMockGateway() *mockGateway {
	return &mockGateway{
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]int64),
		cash:      decimal.NewFromInt(1_000_000),
	}
}

func (g *mockGateway) setPrice(security string, price int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prices[security] = decimal.NewFromInt(price)
}

func (g *mockGateway) setPosition(security string, qty int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[security] = qty
}

// rejectNext makes the next n executions come back rejected.
func (g *mockGateway) rejectNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rejects = n
}

func (g *mockGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *mockGateway) Price(_ context.Context, security string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	px, ok := g.prices[security]
	if !ok {
		return decimal.Zero, types.ErrPriceUnavailable
	}
	return px, nil
}

func (g *mockGateway) Position(_ context.Context, security string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.positions[security], nil
}

func (g *mockGateway) Positions(_ context.Context) (map[string]int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int64, len(g.positions))
	for k, v := range g.positions {
		out[k] = v
	}
	return out, nil
}

func (g *mockGateway) Cash(_ context.Context) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cash, nil
}

func (g *mockGateway) ExecuteTargetValue(_ context.Context, security string, target decimal.Decimal) (*types.ExecutionResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, execCall{security: security, target: target})

	if g.execErr != nil {
		err := g.execErr
		g.execErr = nil
		return nil, err
	}
	if g.rejects > 0 {
		g.rejects--
		return &types.ExecutionResult{
			Security:   security,
			Status:     types.ExecStatusRejected,
			ExecutedAt: time.Now(),
		}, nil
	}

	px := g.prices[security]
	current := px.Mul(decimal.NewFromInt(g.positions[security]))
	shares := target.Sub(current).Div(px).IntPart()
	g.positions[security] += shares
	g.cash = g.cash.Sub(px.Mul(decimal.NewFromInt(shares)))

	return &types.ExecutionResult{
		OrderID:      "mock-order",
		Security:     security,
		Status:       types.ExecStatusOK,
		FilledQty:    shares,
		AvgFillPrice: px,
		FilledValue:  px.Mul(decimal.NewFromInt(shares)),
		ExecutedAt:   time.Now(),
	}, nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}
