// Package persistence provides state persistence functionality.
package persistence

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/split"
)

// Repository defines the interface for state persistence.
type Repository interface {
	// Execution audit log
	SaveExecution(ctx context.Context, record ExecutionRecord) error
	GetExecutions(ctx context.Context, from, to time.Time) ([]ExecutionRecord, error)
	GetExecutionsBySecurity(ctx context.Context, security string, limit int) ([]ExecutionRecord, error)

	// Pending-leg snapshot for crash recovery
	SavePendingLegs(ctx context.Context, legs []split.Leg) error
	GetPendingLegs(ctx context.Context) ([]split.Leg, error)

	// Scheduler state
	SaveState(ctx context.Context, state SchedulerState) error
	GetState(ctx context.Context) (*SchedulerState, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// ExecutionRecord is one row of the execution audit log: every leg
// attempt and removal is recorded, failures included.
type ExecutionRecord struct {
	ID           int64
	LegID        string
	Security     string
	Side         string
	Delta        decimal.Decimal
	Target       decimal.Decimal
	SellAll      bool
	Seq          int
	Attempts     int
	Outcome      string // executed | rescheduled | dropped | canceled | failed
	Status       string
	FilledQty    int64
	AvgFillPrice decimal.Decimal
	FilledValue  decimal.Decimal
	ErrMsg       string
	ExecutedAt   time.Time
}

// SchedulerState represents the overall scheduler state for recovery.
type SchedulerState struct {
	ID               int64
	LastUpdated      time.Time
	LastTickAt       time.Time
	TotalExecuted    int
	TotalRescheduled int
	TotalDropped     int
	TotalCanceled    int
}
