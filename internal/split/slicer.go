// Package split implements order splitting and scheduled execution of
// child legs: slicing a large position change into smaller legs,
// executing the first leg immediately and the rest on later ticks, with
// reschedule-on-failure semantics.
package split

import (
	"github.com/shopspring/decimal"
)

// Slicer computes leg sizes for a total magnitude to move. It is pure
// computation: no I/O, no logging, no side effects.
type Slicer struct {
	// MaxLegValue caps the value per leg and drives the required split
	// count.
	MaxLegValue decimal.Decimal

	// MaxSplits is the hard cap on the number of legs.
	MaxSplits int

	// MinLot is the minimum tradable unit for share-denominated legs.
	MinLot int64

	// ForceMinTwo forces at least two legs once slicing was decided,
	// even when the total would fit in a single leg.
	ForceMinTwo bool
}

// SliceValue splits a positive value magnitude into ordered leg values.
// Legs are floored to whole currency units; the last leg absorbs the
// remainder, so the legs always sum exactly to total.
func (s Slicer) SliceValue(total decimal.Decimal) []decimal.Decimal {
	if total.LessThanOrEqual(decimal.Zero) {
		return nil
	}

	n := s.splitCount(requiredSplits(total, s.MaxLegValue))
	if n <= 1 {
		return []decimal.Decimal{total}
	}

	nd := decimal.NewFromInt(int64(n))
	base := total.Div(nd).Floor()
	if base.IsZero() {
		// Total too small to form n positive legs.
		return []decimal.Decimal{total}
	}

	legs := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		legs[i] = base
	}
	legs[n-1] = total.Sub(base.Mul(decimal.NewFromInt(int64(n - 1))))
	return legs
}

// SliceShares splits a positive share count into ordered leg sizes with
// maxLeg shares per leg. A final leg below MinLot merges backward into
// the prior leg and the slot is dropped.
func (s Slicer) SliceShares(total, maxLeg int64) []int64 {
	if total <= 0 || maxLeg <= 0 {
		return nil
	}

	required := int((total + maxLeg - 1) / maxLeg)
	n := s.splitCount(required)
	if n <= 1 {
		return []int64{total}
	}

	base := total / int64(n)
	if base == 0 {
		return []int64{total}
	}

	legs := make([]int64, n)
	for i := 0; i < n-1; i++ {
		legs[i] = base
	}
	legs[n-1] = total - base*int64(n-1)

	if len(legs) >= 2 && legs[len(legs)-1] < s.MinLot {
		legs[len(legs)-2] += legs[len(legs)-1]
		legs = legs[:len(legs)-1]
	}
	return legs
}

// splitCount clamps the required split count to the configured bounds.
func (s Slicer) splitCount(required int) int {
	min := 1
	if s.ForceMinTwo {
		min = 2
	}
	n := required
	if n < min {
		n = min
	}
	if s.MaxSplits >= min && n > s.MaxSplits {
		n = s.MaxSplits
	}
	return n
}

func requiredSplits(total, maxLeg decimal.Decimal) int {
	if maxLeg.LessThanOrEqual(decimal.Zero) {
		return 1
	}
	return int(total.Div(maxLeg).Ceil().IntPart())
}
