// Package metrics provides Prometheus observability metrics for the break scheduler.
// It includes Critical and Important metrics for agent-facing and operational visibility.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the custom prometheus registry for our application
var Registry = prometheus.NewRegistry()

// factory allows us to register metrics to our custom Registry directly
var factory = promauto.With(Registry)

// =============================================================================
// CRITICAL METRICS - Agent Impact Visibility
// =============================================================================

// AlarmsFiredTotal tracks break alarms fired, by event kind.
// More than one per kind per shift indicates a double-fire bug.
var AlarmsFiredTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "alarm",
	Name:      "fired_total",
	Help:      "Total break alarms fired by event kind",
}, []string{"kind"})

// RemindersTotal tracks advance "starts in N minutes" reminders.
var RemindersTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "alarm",
	Name:      "reminders_total",
	Help:      "Total advance break reminders sent by event kind",
}, []string{"kind"})

// AlarmSoundFailuresTotal tracks failed sound playback. The visual
// notification is still delivered when this increments.
var AlarmSoundFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "alarm",
	Name:      "sound_failures_total",
	Help:      "Total alarm sound playback failures",
})

// AlarmState is the engine state: 0 idle, 1 armed, 2 firing.
var AlarmState = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "alarm",
	Name:      "state",
	Help:      "Alarm engine state (0 idle, 1 armed, 2 firing)",
})

// NextAlarmSeconds is the time until the armed alarm at the last recompute.
var NextAlarmSeconds = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "alarm",
	Name:      "next_alarm_seconds",
	Help:      "Seconds until the next armed alarm at last recompute",
})

// BioPoolRemainingSeconds is the clamped remaining bio-break pool.
var BioPoolRemainingSeconds = factory.NewGauge(prometheus.GaugeOpts{
	Namespace: "tracker",
	Name:      "bio_pool_remaining_seconds",
	Help:      "Remaining bio-break pool for the current shift",
})

// MultipleActiveBreaksTotal counts ledger polls that returned more than one
// open scheduled break. The backend should never allow this.
var MultipleActiveBreaksTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "tracker",
	Name:      "multiple_active_breaks_total",
	Help:      "Ledger polls with more than one open scheduled break",
})

// =============================================================================
// IMPORTANT METRICS - Operational Health
// =============================================================================

// LoopTicksTotal tracks timer loop ticks by loop.
var LoopTicksTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "session",
	Name:      "loop_ticks_total",
	Help:      "Total timer loop ticks handled by loop",
}, []string{"loop"})

// LoopErrorsTotal tracks failed ticks by loop. A failed tick never stops its loop.
var LoopErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "session",
	Name:      "loop_errors_total",
	Help:      "Total failed timer loop ticks by loop",
}, []string{"loop"})

// LoopDurationSeconds tracks time to handle one tick.
var LoopDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "session",
	Name:      "loop_duration_seconds",
	Help:      "Time taken to handle one loop tick",
	Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
}, []string{"loop"})

// DroppedEventsTotal counts ticks dropped because the event queue was full.
var DroppedEventsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "session",
	Name:      "dropped_events_total",
	Help:      "Timer ticks dropped because the event queue was full",
}, []string{"loop"})

// APIRequestsTotal tracks backend requests by operation and outcome.
var APIRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "api",
	Name:      "requests_total",
	Help:      "Total backend requests by operation and outcome",
}, []string{"op", "outcome"})

// APIRequestDurationSeconds tracks backend round-trip latency.
var APIRequestDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "api",
	Name:      "request_duration_seconds",
	Help:      "Backend request latency by operation",
	Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
}, []string{"op"})

// ParserErrorsTotal tracks schedule import parse errors by error type.
var ParserErrorsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Namespace: "parser",
	Name:      "errors_total",
	Help:      "Total schedule import parse errors by error type",
}, []string{"error_type"})

// ParserRecordsTotal tracks schedule rows successfully parsed.
var ParserRecordsTotal = factory.NewCounter(prometheus.CounterOpts{
	Namespace: "parser",
	Name:      "records_total",
	Help:      "Total schedule CSV records successfully parsed",
})

// =============================================================================
// Helper Functions
// =============================================================================

// AlarmStateValue maps an alarm state name to its gauge value.
func AlarmStateValue(state string) float64 {
	switch state {
	case "ARMED":
		return 1
	case "FIRING":
		return 2
	}
	return 0
}

// ResetSessionGauges zeroes the per-session gauges when a session stops.
func ResetSessionGauges() {
	AlarmState.Set(0)
	NextAlarmSeconds.Set(0)
	BioPoolRemainingSeconds.Set(0)
}
