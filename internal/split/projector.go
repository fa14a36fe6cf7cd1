package split

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/broker"
	"github.com/quantexec/splitflow/internal/metrics"
)

// Balance is a point-in-time projection of account state that accounts
// for in-flight legs. Broker cash alone overstates buying power while
// buys are queued and understates it while sells are queued.
type Balance struct {
	// CurrentCash is the broker-reported cash.
	CurrentCash decimal.Decimal

	// PendingBuy is the total value of queued buy legs.
	PendingBuy decimal.Decimal

	// PendingSell is the total value expected from queued sell legs;
	// a sell-all leg is valued at the current holding net of the fixed
	// sell legs for the same security, so the total never exceeds what
	// liquidation could realize.
	PendingSell decimal.Decimal

	// AvailableCash is max(0, CurrentCash − PendingBuy + PendingSell).
	AvailableCash decimal.Decimal

	// Positions is the current holding per security.
	Positions map[string]int64

	// PendingSellShares is the number of shares queued for sale per
	// security, derived from sell-leg values at current prices.
	PendingSellShares map[string]int64

	// Remaining lists securities whose holding net of queued sales
	// stays above the dust tolerance.
	Remaining []string
}

// Projector computes pending-aware balance projections. It is a pure
// reader: it never mutates the pending set or account state.
type Projector struct {
	gw        broker.Gateway
	mgr       *Manager
	logger    *slog.Logger
	recorder  *metrics.Recorder
	tolerance decimal.Decimal
}

// NewProjector creates a projector over the given gateway and manager.
func NewProjector(gw broker.Gateway, mgr *Manager, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		gw:        gw,
		mgr:       mgr,
		logger:    logger,
		tolerance: decimal.NewFromInt(100),
	}
}

// SetRecorder attaches a metrics recorder.
func (p *Projector) SetRecorder(r *metrics.Recorder) {
	p.recorder = r
}

// SetTolerance overrides the dust tolerance below which a residual
// position value counts as fully sold.
func (p *Projector) SetTolerance(tol decimal.Decimal) {
	p.tolerance = tol
}

// Project computes the current balance projection. Legs whose security
// cannot be priced are skipped with a warning rather than failing the
// whole projection.
func (p *Projector) Project(ctx context.Context) (*Balance, error) {
	cash, err := p.gw.Cash(ctx)
	if err != nil {
		return nil, err
	}
	positions, err := p.gw.Positions(ctx)
	if err != nil {
		return nil, err
	}

	bal := &Balance{
		CurrentCash:       cash,
		Positions:         positions,
		PendingSellShares: make(map[string]int64),
	}

	prices := make(map[string]decimal.Decimal)
	price := func(security string) (decimal.Decimal, bool) {
		if px, ok := prices[security]; ok {
			return px, px.IsPositive()
		}
		px, err := p.gw.Price(ctx, security)
		if err != nil || !px.IsPositive() {
			p.logger.Warn("skipping unpriceable leg in projection",
				"security", security, "err", err)
			px = decimal.Zero
		}
		prices[security] = px
		return px, px.IsPositive()
	}

	pendingSellValue := make(map[string]decimal.Decimal)
	sellAll := make(map[string]bool)
	for _, leg := range p.mgr.Pending() {
		switch {
		case leg.SellAll:
			sellAll[leg.Security] = true
		case leg.Delta.IsPositive():
			bal.PendingBuy = bal.PendingBuy.Add(leg.Delta)
		case leg.Delta.IsNegative():
			value := leg.Delta.Neg()
			bal.PendingSell = bal.PendingSell.Add(value)
			pendingSellValue[leg.Security] = pendingSellValue[leg.Security].Add(value)
			if px, ok := price(leg.Security); ok {
				shares := value.Div(px).IntPart()
				bal.PendingSellShares[leg.Security] += shares
			}
		}
	}

	// A sell-all leg liquidates whatever the fixed sell legs leave
	// behind, so it is valued at the holding net of those legs. The
	// projected proceeds for a security can never exceed the value of
	// what is actually held.
	for security := range sellAll {
		px, ok := price(security)
		if !ok {
			continue
		}
		held := positions[security]
		net := px.Mul(decimal.NewFromInt(held)).Sub(pendingSellValue[security])
		if net.IsNegative() {
			net = decimal.Zero
		}
		bal.PendingSell = bal.PendingSell.Add(net)
		pendingSellValue[security] = pendingSellValue[security].Add(net)
		bal.PendingSellShares[security] = held
	}

	bal.AvailableCash = cash.Sub(bal.PendingBuy).Add(bal.PendingSell)
	if bal.AvailableCash.IsNegative() {
		bal.AvailableCash = decimal.Zero
	}

	for security, held := range positions {
		if held <= 0 {
			continue
		}
		px, ok := price(security)
		if !ok {
			// Held but unpriceable still counts as remaining.
			bal.Remaining = append(bal.Remaining, security)
			continue
		}
		residual := px.Mul(decimal.NewFromInt(held)).Sub(pendingSellValue[security])
		if residual.GreaterThan(p.tolerance) {
			bal.Remaining = append(bal.Remaining, security)
		}
	}

	if p.recorder != nil {
		p.recorder.RecordProjection(bal.AvailableCash, bal.PendingBuy, bal.PendingSell)
	}
	return bal, nil
}

// RemainingSecurities returns the securities whose holding net of queued
// sales stays above the dust tolerance.
func (p *Projector) RemainingSecurities(ctx context.Context) ([]string, error) {
	bal, err := p.Project(ctx)
	if err != nil {
		return nil, err
	}
	return bal.Remaining, nil
}

// RemainingSecuritiesCount returns the number of remaining securities.
func (p *Projector) RemainingSecuritiesCount(ctx context.Context) (int, error) {
	remaining, err := p.RemainingSecurities(ctx)
	if err != nil {
		return 0, err
	}
	return len(remaining), nil
}
