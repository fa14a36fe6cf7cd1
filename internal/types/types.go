// Package types defines shared types used across the order scheduler.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side represents the direction of a value change.
type Side int

const (
	SideFlat Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "FLAT"
	}
}

// SideOf returns the trade side implied by a signed value delta.
func SideOf(delta decimal.Decimal) Side {
	switch {
	case delta.IsPositive():
		return SideBuy
	case delta.IsNegative():
		return SideSell
	default:
		return SideFlat
	}
}

// ExecStatus represents the outcome reported by the execution primitive.
type ExecStatus int

const (
	ExecStatusOK ExecStatus = iota
	ExecStatusPartialFill
	ExecStatusCanceled
	ExecStatusRejected
)

func (s ExecStatus) String() string {
	switch s {
	case ExecStatusOK:
		return "OK"
	case ExecStatusPartialFill:
		return "PARTIAL_FILL"
	case ExecStatusCanceled:
		return "CANCELED"
	case ExecStatusRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether the status means the broker will do no further
// work on the order.
func (s ExecStatus) Terminal() bool {
	switch s {
	case ExecStatusCanceled, ExecStatusRejected:
		return true
	default:
		return false
	}
}

// ExecutionResult is the explicit result struct returned by the execution
// primitive. All fields are always populated by the adapter layer; callers
// never probe optional attributes.
type ExecutionResult struct {
	OrderID      string
	Security     string
	Status       ExecStatus
	FilledQty    int64
	AvgFillPrice decimal.Decimal
	FilledValue  decimal.Decimal
	ExecutedAt   time.Time
}
