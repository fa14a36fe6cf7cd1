// Package scheduler provides the tick loop that drives pending-leg
// execution during the trading session.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantexec/splitflow/internal/alerting"
	"github.com/quantexec/splitflow/internal/metrics"
	"github.com/quantexec/splitflow/internal/persistence"
	"github.com/quantexec/splitflow/internal/split"
)

// Config holds scheduler configuration.
type Config struct {
	// TickInterval is the cadence of the execution loop.
	TickInterval time.Duration

	// SessionStartMin and SessionEndMin bound the trading session in
	// minutes from midnight, inclusive.
	SessionStartMin int
	SessionEndMin   int

	// Location is the timezone the session bounds are evaluated in.
	Location *time.Location
}

// DefaultConfig returns the conventional session parameters: ticks
// every two minutes between 09:30 and 14:55.
func DefaultConfig() Config {
	return Config{
		TickInterval:    2 * time.Minute,
		SessionStartMin: 9*60 + 30,
		SessionEndMin:   14*60 + 55,
		Location:        time.UTC,
	}
}

// Driver owns the tick loop: within the session window it fires the
// manager's pending execution, snapshots the schedule, and keeps the
// audit log and counters current through manager events.
type Driver struct {
	cfg      Config
	logger   *slog.Logger
	mgr      *split.Manager
	repo     persistence.Repository
	recorder *metrics.Recorder
	alerter  alerting.Alerter
	clock    func() time.Time

	mu      sync.Mutex
	running bool
	stats   persistence.SchedulerState

	done chan struct{}
	wg   sync.WaitGroup
}

// NewDriver creates a scheduler driver. repo, recorder, and alerter may
// be nil. The driver subscribes itself to the manager's execution
// events.
func NewDriver(cfg Config, mgr *split.Manager, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	d := &Driver{
		cfg:    cfg,
		logger: logger,
		mgr:    mgr,
		clock:  time.Now,
		done:   make(chan struct{}),
	}
	mgr.SetEventHandler(d.handleEvent)
	return d
}

// SetClock overrides the time source.
func (d *Driver) SetClock(clock func() time.Time) {
	if clock != nil {
		d.clock = clock
	}
}

// SetRepository attaches a repository for audit records and snapshots.
func (d *Driver) SetRepository(repo persistence.Repository) {
	d.repo = repo
}

// SetRecorder attaches a metrics recorder.
func (d *Driver) SetRecorder(r *metrics.Recorder) {
	d.recorder = r
}

// SetAlerter attaches an alerter for lifecycle notifications.
func (d *Driver) SetAlerter(a alerting.Alerter) {
	d.alerter = a
}

// Start starts the tick loop.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("starting scheduler",
		"tick_interval", d.cfg.TickInterval,
		"session_start_min", d.cfg.SessionStartMin,
		"session_end_min", d.cfg.SessionEndMin,
	)

	d.wg.Add(1)
	go d.loop(ctx)

	d.alert(ctx, alerting.SeverityInfo, "Scheduler started",
		"tick_interval", d.cfg.TickInterval.String())
	return nil
}

// Stop stops the tick loop and persists final state.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	d.logger.Info("stopping scheduler")

	close(d.done)
	d.wg.Wait()

	d.saveState(ctx)
	if d.repo != nil {
		if err := d.repo.SavePendingLegs(ctx, d.mgr.Snapshot()); err != nil {
			d.logger.Error("failed to snapshot pending legs on stop", "err", err)
		}
	}

	d.alert(ctx, alerting.SeverityInfo, "Scheduler stopped")
	d.logger.Info("scheduler stopped")
	return nil
}

// IsRunning returns true if the loop is active.
func (d *Driver) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// Stats returns a copy of the lifetime counters.
func (d *Driver) Stats() persistence.SchedulerState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Recover loads a persisted pending-leg snapshot into the manager.
// Called once before Start after a process restart.
func (d *Driver) Recover(ctx context.Context) error {
	if d.repo == nil {
		return nil
	}
	legs, err := d.repo.GetPendingLegs(ctx)
	if err != nil {
		return fmt.Errorf("load pending legs: %w", err)
	}
	if len(legs) == 0 {
		return nil
	}

	d.mgr.Restore(legs)
	d.logger.Info("recovered pending legs", "count", len(legs))
	return nil
}

// RunOnce executes a single tick regardless of the loop state. Ticks
// outside the session window are skipped.
func (d *Driver) RunOnce(ctx context.Context) {
	now := d.clock()
	if !d.inSession(now) {
		d.logger.Debug("tick outside session window", "now", now)
		return
	}

	timer := metrics.NewTimer()
	d.mgr.ExecutePending(ctx, now)
	if d.recorder != nil {
		timer.ObserveTick()
		d.recorder.RecordHeartbeat()
	}

	d.mu.Lock()
	d.stats.LastTickAt = now
	d.mu.Unlock()

	if d.repo != nil {
		if err := d.repo.SavePendingLegs(ctx, d.mgr.Snapshot()); err != nil {
			d.logger.Error("failed to snapshot pending legs", "err", err)
			if d.recorder != nil {
				d.recorder.RecordError("snapshot")
			}
		}
	}
}

func (d *Driver) loop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	d.logger.Info("scheduler loop started")

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("scheduler loop stopped: context cancelled")
			return
		case <-d.done:
			d.logger.Info("scheduler loop stopped: shutdown requested")
			return
		case <-ticker.C:
			d.RunOnce(ctx)
		}
	}
}

// inSession reports whether t falls inside the trading session.
func (d *Driver) inSession(t time.Time) bool {
	local := t.In(d.cfg.Location)
	minutes := local.Hour()*60 + local.Minute()
	return minutes >= d.cfg.SessionStartMin && minutes <= d.cfg.SessionEndMin
}

// handleEvent receives manager execution events: it keeps the counters
// and writes the audit log.
func (d *Driver) handleEvent(ev split.Event) {
	d.mu.Lock()
	switch ev.Kind {
	case split.EventExecuted:
		d.stats.TotalExecuted++
	case split.EventRescheduled:
		d.stats.TotalRescheduled++
	case split.EventDropped:
		d.stats.TotalDropped++
	case split.EventCanceled:
		d.stats.TotalCanceled++
	}
	d.mu.Unlock()

	if d.repo == nil {
		return
	}

	record := persistence.ExecutionRecord{
		LegID:      ev.Leg.ID,
		Security:   ev.Leg.Security,
		Side:       ev.Leg.Side().String(),
		Delta:      ev.Leg.Delta,
		Target:     ev.Leg.Target,
		SellAll:    ev.Leg.SellAll,
		Seq:        ev.Leg.Seq,
		Attempts:   ev.Leg.Attempts,
		Outcome:    ev.Kind.String(),
		ErrMsg:     ev.Err,
		ExecutedAt: ev.At,
	}
	if ev.Result != nil {
		record.Status = ev.Result.Status.String()
		record.FilledQty = ev.Result.FilledQty
		record.AvgFillPrice = ev.Result.AvgFillPrice
		record.FilledValue = ev.Result.FilledValue
	}

	if err := d.repo.SaveExecution(context.Background(), record); err != nil {
		d.logger.Error("failed to write audit record",
			"leg_id", ev.Leg.ID, "err", err)
	}
}

func (d *Driver) saveState(ctx context.Context) {
	if d.repo == nil {
		return
	}
	d.mu.Lock()
	state := d.stats
	d.mu.Unlock()
	state.LastUpdated = d.clock()

	if err := d.repo.SaveState(ctx, state); err != nil {
		d.logger.Error("failed to save scheduler state", "err", err)
	}
}

func (d *Driver) alert(ctx context.Context, severity alerting.Severity, message string, fields ...any) {
	if d.alerter == nil {
		return
	}
	if err := d.alerter.Alert(ctx, severity, message, fields...); err != nil {
		d.logger.Warn("failed to send alert", "err", err)
	}
}
