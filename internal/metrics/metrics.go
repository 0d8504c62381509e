package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_steps_total",
			Help: "Total step executions by plugin, action and outcome",
		},
		[]string{"plugin", "action", "status"},
	)

	stepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"plugin", "action"},
	)

	executionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_executions_total",
			Help: "Total workflow executions by terminal status",
		},
		[]string{"status"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maestro_queue_depth",
			Help: "Current task queue depth by status",
		},
		[]string{"status"},
	)

	queueCleanupRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maestro_queue_cleanup_rows_total",
			Help: "Total terminal queue rows removed by cleanup",
		},
	)
)

// RecordStep increments the step counter and observes its duration.
// status should be "completed" or "failed".
func RecordStep(plugin, action, status string, duration time.Duration) {
	stepsTotal.WithLabelValues(plugin, action, status).Inc()
	stepDuration.WithLabelValues(plugin, action).Observe(duration.Seconds())
}

// RecordExecution increments the execution counter for a terminal status.
func RecordExecution(status string) {
	executionsTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth records the current queue depth for one status.
func SetQueueDepth(status string, depth int) {
	queueDepth.WithLabelValues(status).Set(float64(depth))
}

// RecordCleanup adds removed rows to the cleanup counter.
func RecordCleanup(rows int64) {
	queueCleanupRows.Add(float64(rows))
}
