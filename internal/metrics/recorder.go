package metrics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recorder provides methods for recording scheduler metrics.
type Recorder struct{}

// NewRecorder creates a new metrics recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordLeg records the outcome of an executed leg.
func (r *Recorder) RecordLeg(security, side, status string) {
	LegsTotal.WithLabelValues(security, side, status).Inc()
}

// SetPendingLegs records the current pending-set size.
func (r *Recorder) SetPendingLegs(n int) {
	PendingLegs.Set(float64(n))
}

// RecordReschedule records a failed leg being pushed back.
func (r *Recorder) RecordReschedule(security string) {
	ReschedulesTotal.WithLabelValues(security).Inc()
}

// RecordDrop records a leg being dropped.
func (r *Recorder) RecordDrop(security, reason string) {
	DropsTotal.WithLabelValues(security, reason).Inc()
}

// RecordRequestRejected records an order request failing validity checks.
func (r *Recorder) RecordRequestRejected(reason string) {
	RequestsRejected.WithLabelValues(reason).Inc()
}

// RecordSplit records a request being split into legs.
func (r *Recorder) RecordSplit(security string) {
	SplitsTotal.WithLabelValues(security).Inc()
}

// RecordProjection records a balance projection.
func (r *Recorder) RecordProjection(available, pendingBuy, pendingSell decimal.Decimal) {
	AvailableCash.Set(available.InexactFloat64())
	PendingBuyValue.Set(pendingBuy.InexactFloat64())
	PendingSellValue.Set(pendingSell.InexactFloat64())
}

// RecordOrderLatency records execution primitive latency.
func (r *Recorder) RecordOrderLatency(d time.Duration) {
	OrderLatency.Observe(d.Seconds())
}

// RecordTickDuration records the duration of one scheduler tick.
func (r *Recorder) RecordTickDuration(d time.Duration) {
	TickDuration.Observe(d.Seconds())
}

// RecordHeartbeat records a scheduler tick heartbeat.
func (r *Recorder) RecordHeartbeat() {
	HeartbeatTimestamp.Set(float64(time.Now().Unix()))
}

// RecordError records an error.
func (r *Recorder) RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Timer is a helper for measuring latency.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// ObserveOrder records elapsed time as order latency.
func (t *Timer) ObserveOrder() {
	OrderLatency.Observe(time.Since(t.start).Seconds())
}

// ObserveTick records elapsed time as tick duration.
func (t *Timer) ObserveTick() {
	TickDuration.Observe(time.Since(t.start).Seconds())
}
