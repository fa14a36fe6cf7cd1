package split

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/broker"
	"github.com/quantexec/splitflow/internal/types"
)

// Leg is one deferred child order of a split request.
//
// Security is immutable for the life of the leg; the manager rewrites
// ExecAt and Attempts when rescheduling. Delta is the signed value to
// trade (+ buy, − sell). Target records the absolute target value of the
// originating request and is used by the manager's validity checks.
// A SellAll leg ignores Delta and liquidates the entire remaining
// position.
type Leg struct {
	ID         string
	Security   string
	Delta      decimal.Decimal
	Target     decimal.Decimal
	SellAll    bool
	ExecAt     time.Time
	Seq        int
	Attempts   int
	ExecutedAt *time.Time
}

func newLeg(security string, delta, target decimal.Decimal, sellAll bool, execAt time.Time, seq int) *Leg {
	return &Leg{
		ID:       uuid.New().String(),
		Security: security,
		Delta:    delta,
		Target:   target,
		SellAll:  sellAll,
		ExecAt:   execAt,
		Seq:      seq,
	}
}

// Side returns the trade direction of the leg.
func (l *Leg) Side() types.Side {
	if l.SellAll {
		return types.SideSell
	}
	return types.SideOf(l.Delta)
}

// Execute resolves the leg's numeric target and delegates to the
// execution primitive. ExecutedAt is set whenever the primitive returns
// a result, regardless of fill outcome; judging the fill is the
// manager's job. Gateway errors propagate to the caller, which owns the
// retry policy.
func (l *Leg) Execute(ctx context.Context, gw broker.Gateway) (*types.ExecutionResult, error) {
	if l.ExecutedAt != nil {
		return nil, types.ErrAlreadyExecuted
	}
	if !l.SellAll && l.Delta.IsZero() {
		return nil, types.ErrNoTarget
	}

	target := decimal.Zero
	if !l.SellAll {
		price, err := gw.Price(ctx, l.Security)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", l.Security, err)
		}
		if price.LessThanOrEqual(decimal.Zero) {
			return nil, fmt.Errorf("price %s: %w", l.Security, types.ErrInvalidPrice)
		}
		qty, err := gw.Position(ctx, l.Security)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", l.Security, err)
		}

		current := price.Mul(decimal.NewFromInt(qty))
		target = current.Add(l.Delta)
		// Stale delta math must never submit a negative target.
		if target.IsNegative() {
			target = decimal.Zero
		}
	}

	res, err := gw.ExecuteTargetValue(ctx, l.Security, target)
	if err != nil {
		return res, fmt.Errorf("execute %s: %w", l.Security, err)
	}
	if res != nil {
		at := res.ExecutedAt
		l.ExecutedAt = &at
	}
	return res, nil
}

// LegView is the read-only diagnostic projection of a pending leg.
type LegView struct {
	Security string
	Delta    decimal.Decimal
	Target   decimal.Decimal
	SellAll  bool
	ExecAt   time.Time
	Seq      int
}
