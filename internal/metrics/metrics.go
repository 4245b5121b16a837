package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for EventsTotal
const (
	OutcomeSuccess            = "success"
	OutcomeRejectedFormat     = "rejected_format"
	OutcomeRejectedPermission = "rejected_permission"
	OutcomeFault              = "fault"
	OutcomeSkipped            = "skipped"
)

var (
	// Ingestion metrics
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulars_ingest_events_total",
			Help: "Total number of storage events by processing outcome",
		},
		[]string{"outcome"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "circulars_ingest_batch_duration_seconds",
			Help:    "Duration of batch processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	BatchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulars_ingest_batch_failures_total",
			Help: "Total number of batches that ended with at least one fault",
		},
	)

	SourceErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulars_ingest_source_errors_total",
			Help: "Total number of event source failures",
		},
	)

	// Allocation metrics
	AllocationAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulars_allocation_attempts_total",
			Help: "Total number of identifier commit attempts",
		},
	)

	AllocationConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulars_allocation_conflicts_total",
			Help: "Total number of conditional counter update conflicts",
		},
	)

	// Notification metrics
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circulars_notifications_total",
			Help: "Total number of outbound notifications by template and result",
		},
		[]string{"template", "result"},
	)

	// Publishing metrics
	PublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulars_publish_errors_total",
			Help: "Total number of failures publishing created circulars",
		},
	)

	FaultReportErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "circulars_fault_report_errors_total",
			Help: "Total number of failures reporting faulted events",
		},
	)
)
