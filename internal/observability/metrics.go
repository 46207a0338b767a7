package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Inspection outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeNoTarget  = "no_target"
	OutcomeNoWindow  = "no_window"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

var (
	metricInspections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inspectbridge",
		Name:      "inspections_total",
		Help:      "Interactive element inspections by outcome.",
	}, []string{"outcome"})
	metricAttaches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inspectbridge",
		Name:      "debugger_attaches_total",
		Help:      "Top-level debugger attaches performed by the session manager.",
	})
	metricDetaches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inspectbridge",
		Name:      "debugger_detaches_total",
		Help:      "Top-level debugger detaches performed by the session manager.",
	})
	metricResolverPolls = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inspectbridge",
		Name:      "resolver_polls_total",
		Help:      "Target list polls issued while waiting for a sub-target.",
	})
	metricConsoleLines = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "inspectbridge",
		Name:      "console_lines_total",
		Help:      "Console lines appended to log buffers.",
	})
	metricConsoleSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "inspectbridge",
		Name:      "console_sessions_active",
		Help:      "Console capture sessions currently subscribed.",
	})
)

func RecordInspection(outcome string) {
	metricInspections.WithLabelValues(outcome).Inc()
}

func RecordAttach() {
	metricAttaches.Inc()
}

func RecordDetach() {
	metricDetaches.Inc()
}

func RecordResolverPoll() {
	metricResolverPolls.Inc()
}

func RecordConsoleLine() {
	metricConsoleLines.Inc()
}

// TrackConsoleSession bumps the active session gauge and returns its release.
func TrackConsoleSession() func() {
	metricConsoleSessions.Inc()
	return metricConsoleSessions.Dec
}
