// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grade_reconciliations_total",
			Help: "Total number of reconciliation passes by outcome",
		},
		[]string{"server", "outcome"},
	)

	RemoteFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_fetch_failures_total",
			Help: "Remote grading service calls that were treated as an empty response",
		},
		[]string{"server", "reason"},
	)

	RemoteRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "remote_request_duration_seconds",
			Help:    "Remote grading service request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"server"},
	)

	LateEventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "late_grade_events_rejected_total",
			Help: "Grade events dropped because they came after the effective due date",
		},
		[]string{"server"},
	)

	GradeWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gradebook_writes_total",
			Help: "Grades written to the gradebook",
		},
		[]string{"kind"},
	)

	GradeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "task_grade_fraction",
			Help:    "Distribution of synced raw grade fractions",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"server"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method", "status"},
	)
)
