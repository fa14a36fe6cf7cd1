// Package alerting provides notification capabilities for the order
// scheduler.
package alerting

import (
	"context"
	"fmt"
)

// Severity represents the alert severity level.
type Severity int

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = iota
	// SeverityWarning is for warning messages.
	SeverityWarning
	// SeverityCritical is for alerts requiring immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Emoji returns an emoji for the severity level.
func (s Severity) Emoji() string {
	switch s {
	case SeverityInfo:
		return "ℹ️"
	case SeverityWarning:
		return "⚠️"
	case SeverityCritical:
		return "🚨"
	default:
		return "❓"
	}
}

// Alerter defines the interface for sending alerts.
type Alerter interface {
	// Alert sends an alert with the given severity and message.
	Alert(ctx context.Context, severity Severity, message string, fields ...any) error
	// Name returns the name of the alerter.
	Name() string
}

// FormatFields converts variadic key-value fields to a formatted string.
func FormatFields(fields ...any) string {
	if len(fields) == 0 {
		return ""
	}

	result := ""
	for i := 0; i < len(fields)-1; i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		if result != "" {
			result += "\n"
		}
		result += fmt.Sprintf("• %s: %v", key, fields[i+1])
	}
	return result
}

// AlertEvent represents a pre-defined alert event type.
type AlertEvent string

const (
	// EventLegFailed is sent when a scheduled leg fails and is pushed back.
	EventLegFailed AlertEvent = "leg_failed"
	// EventLegDropped is sent when a leg is dropped after exhausting retries.
	EventLegDropped AlertEvent = "leg_dropped"
	// EventLegCanceled is sent when the cancel policy removes a leg.
	EventLegCanceled AlertEvent = "leg_canceled"
	// EventCashAdjusted is sent on an administrative cash adjustment.
	EventCashAdjusted AlertEvent = "cash_adjusted"
	// EventSchedulerStarted is sent when the tick driver starts.
	EventSchedulerStarted AlertEvent = "scheduler_started"
	// EventSchedulerStopped is sent when the tick driver stops.
	EventSchedulerStopped AlertEvent = "scheduler_stopped"
)

// EventSeverity returns the default severity for an event.
func EventSeverity(event AlertEvent) Severity {
	switch event {
	case EventLegDropped:
		return SeverityCritical
	case EventLegFailed, EventLegCanceled:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}
