package split

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/alerting"
	"github.com/quantexec/splitflow/internal/broker"
	"github.com/quantexec/splitflow/internal/metrics"
	"github.com/quantexec/splitflow/internal/types"
)

// Config holds manager configuration, fixed at construction.
type Config struct {
	// SplitThreshold is the value delta at or below which an order
	// executes directly without splitting.
	SplitThreshold decimal.Decimal

	// MaxLegValue caps the value per leg.
	MaxLegValue decimal.Decimal

	// MaxSplits is the hard cap on legs per request.
	MaxSplits int

	// Interval is the time gap between successive legs of one security.
	Interval time.Duration

	// MinLot is the minimum tradable unit for share-denominated slicing.
	MinLot int64

	// ForceMinTwo forces at least two legs once a request is routed
	// through the slicer.
	ForceMinTwo bool

	// MaxRetries is the retry ceiling per leg; 0 means retry forever.
	MaxRetries int
}

// DefaultConfig returns the conventional split parameters.
func DefaultConfig() Config {
	return Config{
		SplitThreshold: decimal.NewFromInt(50000),
		MaxLegValue:    decimal.NewFromInt(50000),
		MaxSplits:      4,
		Interval:       4 * time.Minute,
		MinLot:         100,
		ForceMinTwo:    true,
	}
}

// EventKind classifies an execution event.
type EventKind int

const (
	// EventExecuted means a leg executed successfully.
	EventExecuted EventKind = iota
	// EventRescheduled means a failed leg was pushed back onto the schedule.
	EventRescheduled
	// EventDropped means a leg was removed after exhausting its retries.
	EventDropped
	// EventCanceled means the cancel policy removed a leg.
	EventCanceled
	// EventFailed means a direct below-threshold order failed and was
	// abandoned; direct orders never join the schedule for retry.
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventExecuted:
		return "executed"
	case EventRescheduled:
		return "rescheduled"
	case EventDropped:
		return "dropped"
	case EventCanceled:
		return "canceled"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is emitted after each leg execution attempt or removal. The
// surrounding integration layer subscribes to it for persistence and
// notification; the manager itself stays free of those concerns.
type Event struct {
	Kind   EventKind
	Leg    Leg
	Result *types.ExecutionResult
	Err    string
	At     time.Time
}

// EventHandler receives execution events.
type EventHandler func(Event)

// CancelPolicy decides whether a pending leg should be removed before
// normal processing on a tick.
type CancelPolicy func(Leg) bool

// Manager orchestrates order splitting and scheduled execution. It owns
// the pending set exclusively; holdings and cash are read through the
// gateway and never written directly.
type Manager struct {
	cfg      Config
	gw       broker.Gateway
	slicer   Slicer
	logger   *slog.Logger
	recorder *metrics.Recorder
	alerter  alerting.Alerter
	clock    func() time.Time
	cancel   CancelPolicy
	onEvent  EventHandler

	mu      sync.Mutex
	pending []*Leg
}

// NewManager creates a manager over the given gateway.
func NewManager(cfg Config, gw broker.Gateway, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg: cfg,
		gw:  gw,
		slicer: Slicer{
			MaxLegValue: cfg.MaxLegValue,
			MaxSplits:   cfg.MaxSplits,
			MinLot:      cfg.MinLot,
			ForceMinTwo: cfg.ForceMinTwo,
		},
		logger: logger,
		clock:  time.Now,
	}
}

// SetClock overrides the logical-time source.
func (m *Manager) SetClock(clock func() time.Time) {
	if clock != nil {
		m.clock = clock
	}
}

// SetRecorder attaches a metrics recorder.
func (m *Manager) SetRecorder(r *metrics.Recorder) {
	m.recorder = r
}

// SetAlerter attaches an alerter for failure notifications.
func (m *Manager) SetAlerter(a alerting.Alerter) {
	m.alerter = a
}

// SetEventHandler subscribes a handler to execution events.
func (m *Manager) SetEventHandler(h EventHandler) {
	m.onEvent = h
}

// SetCancelPolicy installs a predicate evaluated at the start of each
// tick; qualifying legs are removed before normal processing.
func (m *Manager) SetCancelPolicy(p CancelPolicy) {
	m.cancel = p
}

// OrderTargetValue converges the position in security toward an absolute
// target market value, splitting into scheduled legs when the change is
// large. Returns true when an order was executed or scheduled. All
// recoverable failures are logged and reported as false, never raised.
func (m *Manager) OrderTargetValue(ctx context.Context, security string, target decimal.Decimal) bool {
	if target.IsNegative() {
		m.logger.Warn("rejecting negative target value", "security", security, "target", target)
		m.reject("negative_target")
		return false
	}

	price, ok := m.tradablePrice(ctx, security)
	if !ok {
		return false
	}

	qty, err := m.gw.Position(ctx, security)
	if err != nil {
		m.logger.Error("position lookup failed", "security", security, "err", err)
		m.reject("position_unavailable")
		return false
	}
	current := price.Mul(decimal.NewFromInt(qty))

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.validateLocked(security, target, current) {
		return false
	}

	delta := target.Sub(current)
	if delta.IsZero() {
		m.logger.Info("target equals current value, nothing to do",
			"security", security, "target", target)
		return false
	}

	now := m.clock()
	sellAll := target.IsZero() && qty > 0

	if delta.Abs().LessThanOrEqual(m.cfg.SplitThreshold) {
		return m.executeDirectLocked(ctx, security, delta, target, sellAll, now)
	}
	return m.placeSplitLocked(ctx, security, delta, target, sellAll, now)
}

// OrderTargetShares converges the position toward a target share count.
// The request is converted to a value target at the current price so a
// single code path handles validity and splitting.
func (m *Manager) OrderTargetShares(ctx context.Context, security string, shares int64) bool {
	if shares < 0 {
		m.logger.Warn("rejecting negative share target", "security", security, "shares", shares)
		m.reject("negative_target")
		return false
	}

	price, ok := m.tradablePrice(ctx, security)
	if !ok {
		return false
	}
	return m.OrderTargetValue(ctx, security, price.Mul(decimal.NewFromInt(shares)))
}

// OrderValueDelta trades a signed value amount relative to the current
// position value.
func (m *Manager) OrderValueDelta(ctx context.Context, security string, amount decimal.Decimal) bool {
	price, ok := m.tradablePrice(ctx, security)
	if !ok {
		return false
	}

	qty, err := m.gw.Position(ctx, security)
	if err != nil {
		m.logger.Error("position lookup failed", "security", security, "err", err)
		m.reject("position_unavailable")
		return false
	}

	target := price.Mul(decimal.NewFromInt(qty)).Add(amount)
	if target.IsNegative() {
		target = decimal.Zero
	}
	return m.OrderTargetValue(ctx, security, target)
}

// ExecutePending runs one scheduling tick: per security, the single
// earliest-due leg executes; failures are rescheduled, never dropped
// silently. One security's failure does not block another's leg.
func (m *Manager) ExecutePending(ctx context.Context, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweepCanceledLocked(now)

	for _, security := range m.securitiesLocked() {
		legs := m.legsForLocked(security)
		if len(legs) == 0 {
			continue
		}
		sortLegs(legs)

		leg := legs[0]
		if leg.ExecAt.After(now) {
			continue
		}
		m.removeLocked(leg)

		res, err := m.executeLeg(ctx, leg)
		if err == nil && isSuccessful(res) {
			m.logger.Info("pending leg executed",
				"security", leg.Security,
				"seq", leg.Seq,
				"delta", leg.Delta,
				"sell_all", leg.SellAll,
				"filled_qty", res.FilledQty,
			)
			m.record(leg, string(legStatusExecuted))
			m.emit(Event{Kind: EventExecuted, Leg: *leg, Result: res, At: now})
			continue
		}

		m.handleFailureLocked(ctx, leg, res, err, now)
	}

	if m.recorder != nil {
		m.recorder.SetPendingLegs(len(m.pending))
	}
}

// Pending returns a read-only projection of the pending set for
// diagnostics, ordered by execution time.
func (m *Manager) Pending() []LegView {
	m.mu.Lock()
	defer m.mu.Unlock()

	views := make([]LegView, 0, len(m.pending))
	for _, leg := range m.pending {
		views = append(views, LegView{
			Security: leg.Security,
			Delta:    leg.Delta,
			Target:   leg.Target,
			SellAll:  leg.SellAll,
			ExecAt:   leg.ExecAt,
			Seq:      leg.Seq,
		})
	}
	sort.Slice(views, func(i, j int) bool {
		if !views[i].ExecAt.Equal(views[j].ExecAt) {
			return views[i].ExecAt.Before(views[j].ExecAt)
		}
		return views[i].Seq < views[j].Seq
	})
	return views
}

// Snapshot returns copies of all pending legs, for persistence.
func (m *Manager) Snapshot() []Leg {
	m.mu.Lock()
	defer m.mu.Unlock()

	legs := make([]Leg, 0, len(m.pending))
	for _, leg := range m.pending {
		legs = append(legs, *leg)
	}
	return legs
}

// Restore replaces the pending set with previously snapshotted legs.
func (m *Manager) Restore(legs []Leg) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pending = make([]*Leg, 0, len(legs))
	for i := range legs {
		leg := legs[i]
		m.pending = append(m.pending, &leg)
	}
	if m.recorder != nil {
		m.recorder.SetPendingLegs(len(m.pending))
	}
}

// validateLocked runs the order validity checks. It must run before any
// mutation; rejections are logged and counted, never raised.
func (m *Manager) validateLocked(security string, target, current decimal.Decimal) bool {
	// A queued liquidation excludes any further instruction until it
	// has fully executed.
	if m.hasSellAllLocked(security) {
		m.logger.Warn("rejecting order: sell-all leg already pending",
			"security", security, "target", target)
		m.reject("sell_all_pending")
		return false
	}

	switch {
	case target.GreaterThan(current):
		// Redundant escalating buy: an in-flight request already
		// converges at or above this target.
		if best, ok := m.maxBuyTargetLocked(security); ok && best.GreaterThanOrEqual(target) {
			m.logger.Warn("rejecting redundant buy",
				"security", security, "target", target, "pending_target", best)
			m.reject("redundant_buy")
			return false
		}
	case target.LessThan(current):
		planned := m.plannedReductionLocked(security)
		reduction := current.Sub(target)
		if planned.Add(reduction).GreaterThan(current) {
			m.logger.Warn("rejecting over-sell",
				"security", security,
				"target", target,
				"planned_reduction", planned,
				"current_value", current)
			m.reject("over_sell")
			return false
		}
	}
	return true
}

// executeDirectLocked executes a below-threshold order in one shot.
func (m *Manager) executeDirectLocked(ctx context.Context, security string, delta, target decimal.Decimal, sellAll bool, now time.Time) bool {
	leg := newLeg(security, delta, target, sellAll, now, 0)

	m.logger.Info("direct order",
		"security", security, "delta", delta, "target", target)

	res, err := m.executeLeg(ctx, leg)
	if err != nil || !isSuccessful(res) {
		m.logger.Warn("direct order failed",
			"security", security, "delta", delta, "err", err)
		m.record(leg, string(legStatusFailed))
		m.emit(Event{Kind: EventFailed, Leg: *leg, Result: res, Err: errString(err), At: now})
		return false
	}

	m.record(leg, string(legStatusExecuted))
	m.emit(Event{Kind: EventExecuted, Leg: *leg, Result: res, At: now})
	return true
}

// placeSplitLocked slices the delta, executes leg 0 immediately and
// schedules the remainder. A failed first leg becomes a pending leg at
// now+interval, shifting the rest by one slot.
func (m *Manager) placeSplitLocked(ctx context.Context, security string, delta, target decimal.Decimal, sellAll bool, now time.Time) bool {
	magnitudes := m.slicer.SliceValue(delta.Abs())
	if len(magnitudes) == 1 {
		// ForceMinTwo disabled and the delta fits one leg.
		return m.executeDirectLocked(ctx, security, delta, target, sellAll, now)
	}

	negate := delta.IsNegative()
	legs := make([]*Leg, len(magnitudes))
	for i, mag := range magnitudes {
		d := mag
		if negate {
			d = mag.Neg()
		}
		legs[i] = newLeg(security, d, target, sellAll && i == len(magnitudes)-1, now, i)
	}

	m.logger.Info("splitting order",
		"security", security,
		"delta", delta,
		"target", target,
		"legs", len(legs),
	)
	if m.recorder != nil {
		m.recorder.RecordSplit(security)
	}

	first := legs[0]
	res, err := m.executeLeg(ctx, first)

	shift := 0
	if err == nil && isSuccessful(res) {
		m.record(first, string(legStatusExecuted))
		m.emit(Event{Kind: EventExecuted, Leg: *first, Result: res, At: now})
	} else {
		// The first leg is not discarded: it joins the schedule ahead
		// of the rest.
		m.logger.Warn("first leg failed, converting to pending",
			"security", security, "delta", first.Delta, "err", err)
		first.Attempts = 1
		first.ExecutedAt = nil
		first.ExecAt = now.Add(m.cfg.Interval)
		m.pending = append(m.pending, first)
		shift = 1
		m.record(first, string(legStatusFailed))
		m.emit(Event{Kind: EventRescheduled, Leg: *first, Result: res, Err: errString(err), At: now})
	}

	for i := 1; i < len(legs); i++ {
		legs[i].ExecAt = now.Add(time.Duration(i+shift) * m.cfg.Interval)
		m.pending = append(m.pending, legs[i])
		m.logger.Info("scheduled leg",
			"security", security,
			"seq", legs[i].Seq,
			"delta", legs[i].Delta,
			"exec_at", legs[i].ExecAt,
		)
	}

	if m.recorder != nil {
		m.recorder.SetPendingLegs(len(m.pending))
	}
	return true
}

// handleFailureLocked reschedules or drops a leg that failed on a tick.
func (m *Manager) handleFailureLocked(ctx context.Context, leg *Leg, res *types.ExecutionResult, err error, now time.Time) {
	leg.Attempts++
	m.record(leg, string(legStatusFailed))

	if m.cfg.MaxRetries > 0 && leg.Attempts > m.cfg.MaxRetries {
		m.logger.Error("dropping leg after exhausting retries",
			"security", leg.Security,
			"seq", leg.Seq,
			"delta", leg.Delta,
			"attempts", leg.Attempts,
			"err", err,
		)
		if m.recorder != nil {
			m.recorder.RecordDrop(leg.Security, "max_retries")
		}
		m.emit(Event{Kind: EventDropped, Leg: *leg, Result: res, Err: errString(err), At: now})
		m.alert(ctx, alerting.SeverityCritical, "Leg dropped after exhausting retries",
			"security", leg.Security,
			"delta", leg.Delta.String(),
			"attempts", leg.Attempts,
		)
		return
	}

	leg.ExecutedAt = nil
	m.rescheduleLocked(leg, now)
	m.logger.Warn("leg failed, rescheduled",
		"security", leg.Security,
		"seq", leg.Seq,
		"delta", leg.Delta,
		"attempts", leg.Attempts,
		"exec_at", leg.ExecAt,
		"err", err,
	)
	if m.recorder != nil {
		m.recorder.RecordReschedule(leg.Security)
	}
	m.emit(Event{Kind: EventRescheduled, Leg: *leg, Result: res, Err: errString(err), At: now})
	m.alert(ctx, alerting.SeverityWarning, "Leg execution failed",
		"security", leg.Security,
		"delta", leg.Delta.String(),
		"attempts", leg.Attempts,
	)
}

// rescheduleLocked reinserts a failed leg at the front of its security's
// queue: it takes the earliest former slot and every later leg shifts to
// the next one, the last extending by one interval. With no other legs
// the retry lands at now+interval. Only exec times change; targets are
// never altered by a reschedule.
func (m *Manager) rescheduleLocked(failed *Leg, now time.Time) {
	others := m.legsForLocked(failed.Security)
	sortLegs(others)

	if len(others) == 0 {
		failed.ExecAt = now.Add(m.cfg.Interval)
	} else {
		slots := make([]time.Time, len(others)+1)
		for i, o := range others {
			slots[i] = o.ExecAt
		}
		slots[len(others)] = others[len(others)-1].ExecAt.Add(m.cfg.Interval)

		failed.ExecAt = slots[0]
		for i, o := range others {
			o.ExecAt = slots[i+1]
		}
	}
	m.pending = append(m.pending, failed)
}

// sweepCanceledLocked removes legs matching the cancel policy.
func (m *Manager) sweepCanceledLocked(now time.Time) {
	if m.cancel == nil {
		return
	}

	kept := m.pending[:0]
	for _, leg := range m.pending {
		if m.cancel(*leg) {
			m.logger.Info("leg removed by cancel policy",
				"security", leg.Security, "seq", leg.Seq, "delta", leg.Delta)
			if m.recorder != nil {
				m.recorder.RecordDrop(leg.Security, "cancel_policy")
			}
			m.emit(Event{Kind: EventCanceled, Leg: *leg, At: now})
			continue
		}
		kept = append(kept, leg)
	}
	m.pending = kept
}

// executeLeg runs one leg with a per-leg panic boundary so a misbehaving
// gateway cannot take down the whole tick.
func (m *Manager) executeLeg(ctx context.Context, leg *Leg) (res *types.ExecutionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("execution primitive panic: %v", r)
		}
	}()

	timer := metrics.NewTimer()
	res, err = leg.Execute(ctx, m.gw)
	if m.recorder != nil {
		timer.ObserveOrder()
	}
	return res, err
}

type legStatus string

const (
	legStatusExecuted legStatus = "executed"
	legStatusFailed   legStatus = "failed"
)

// isSuccessful judges a fill outcome: a result exists, something filled,
// and the broker did not cancel or reject it.
func isSuccessful(res *types.ExecutionResult) bool {
	return res != nil && res.FilledQty != 0 && !res.Status.Terminal()
}

func (m *Manager) tradablePrice(ctx context.Context, security string) (decimal.Decimal, bool) {
	price, err := m.gw.Price(ctx, security)
	if err != nil {
		m.logger.Error("price unavailable", "security", security, "err", err)
		m.reject("unpriceable")
		return decimal.Zero, false
	}
	if price.LessThanOrEqual(decimal.Zero) {
		m.logger.Error("non-positive price", "security", security, "price", price)
		m.reject("unpriceable")
		return decimal.Zero, false
	}
	return price, true
}

func (m *Manager) hasSellAllLocked(security string) bool {
	for _, leg := range m.pending {
		if leg.Security == security && leg.SellAll {
			return true
		}
	}
	return false
}

func (m *Manager) maxBuyTargetLocked(security string) (decimal.Decimal, bool) {
	best := decimal.Zero
	found := false
	for _, leg := range m.pending {
		if leg.Security != security || !leg.Delta.IsPositive() {
			continue
		}
		if !found || leg.Target.GreaterThan(best) {
			best = leg.Target
			found = true
		}
	}
	return best, found
}

func (m *Manager) plannedReductionLocked(security string) decimal.Decimal {
	total := decimal.Zero
	for _, leg := range m.pending {
		if leg.Security == security && leg.Delta.IsNegative() {
			total = total.Add(leg.Delta.Neg())
		}
	}
	return total
}

func (m *Manager) securitiesLocked() []string {
	seen := make(map[string]struct{})
	var securities []string
	for _, leg := range m.pending {
		if _, ok := seen[leg.Security]; !ok {
			seen[leg.Security] = struct{}{}
			securities = append(securities, leg.Security)
		}
	}
	return securities
}

func (m *Manager) legsForLocked(security string) []*Leg {
	var legs []*Leg
	for _, leg := range m.pending {
		if leg.Security == security {
			legs = append(legs, leg)
		}
	}
	return legs
}

func (m *Manager) removeLocked(target *Leg) {
	for i, leg := range m.pending {
		if leg == target {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			return
		}
	}
}

func (m *Manager) record(leg *Leg, status string) {
	if m.recorder != nil {
		m.recorder.RecordLeg(leg.Security, leg.Side().String(), status)
	}
}

func (m *Manager) reject(reason string) {
	if m.recorder != nil {
		m.recorder.RecordRequestRejected(reason)
	}
}

func (m *Manager) emit(ev Event) {
	if m.onEvent != nil {
		m.onEvent(ev)
	}
}

func (m *Manager) alert(ctx context.Context, severity alerting.Severity, message string, fields ...any) {
	if m.alerter == nil {
		return
	}
	if err := m.alerter.Alert(ctx, severity, message, fields...); err != nil {
		m.logger.Warn("failed to send alert", "err", err)
	}
}

func sortLegs(legs []*Leg) {
	sort.Slice(legs, func(i, j int) bool {
		if !legs[i].ExecAt.Equal(legs[j].ExecAt) {
			return legs[i].ExecAt.Before(legs[j].ExecAt)
		}
		return legs[i].Seq < legs[j].Seq
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
