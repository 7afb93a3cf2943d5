package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collaborator call metrics, labelled by operation and outcome.
var (
	CollaboratorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_calls_total",
			Help:      "Total number of calls to the recognition and persistence service",
		},
		[]string{"operation", "outcome"},
	)

	CollaboratorCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_call_duration_seconds",
			Help:      "Collaborator call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	CapturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Capture workflow events",
		},
		[]string{"event"}, // recto, verso, skip, saved, reset
	)
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

func init() {
	prometheus.MustRegister(CollaboratorCallsTotal)
	prometheus.MustRegister(CollaboratorCallDuration)
	prometheus.MustRegister(CapturesTotal)
}

// ObserveCall records one collaborator call started at start.
func ObserveCall(operation, outcome string, start time.Time) {
	CollaboratorCallsTotal.WithLabelValues(operation, outcome).Inc()
	CollaboratorCallDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// CaptureEvent counts a capture workflow transition.
func CaptureEvent(event string) {
	CapturesTotal.WithLabelValues(event).Inc()
}
