// Package metrics provides Prometheus metrics for the order scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Leg lifecycle metrics.
var (
	LegsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitflow_legs_total",
		Help: "Total number of executed legs by security, side and outcome",
	}, []string{"security", "side", "status"})

	PendingLegs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitflow_pending_legs",
		Help: "Number of legs currently scheduled for later execution",
	})

	ReschedulesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitflow_reschedules_total",
		Help: "Total number of failed legs pushed back onto the schedule",
	}, []string{"security"})

	DropsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitflow_drops_total",
		Help: "Total number of legs dropped after exhausting retries or by cancel policy",
	}, []string{"security", "reason"})

	RequestsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitflow_requests_rejected_total",
		Help: "Order requests rejected by validity checks",
	}, []string{"reason"})

	SplitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitflow_splits_total",
		Help: "Requests that were split into multiple legs",
	}, []string{"security"})
)

// Account projection metrics.
var (
	AvailableCash = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitflow_available_cash",
		Help: "Projected available cash after accounting for in-flight legs",
	})

	PendingBuyValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitflow_pending_buy_value",
		Help: "Total value of pending buy-direction legs",
	})

	PendingSellValue = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitflow_pending_sell_value",
		Help: "Expected proceeds of pending sell-direction legs",
	})
)

// Operational metrics.
var (
	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splitflow_order_latency_seconds",
		Help:    "Latency of execution primitive calls",
		Buckets: prometheus.DefBuckets,
	})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "splitflow_tick_duration_seconds",
		Help:    "Duration of one pending-order processing tick",
		Buckets: prometheus.DefBuckets,
	})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "splitflow_heartbeat_timestamp",
		Help: "Unix timestamp of the last scheduler tick",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "splitflow_errors_total",
		Help: "Total errors by type",
	}, []string{"type"})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "splitflow_build_info",
		Help: "Build information",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo records build information.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
