package incidents

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "incidentsbot"

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "operations_total",
			Help:      "Total incident lifecycle operations by result",
		},
		[]string{"operation", "result"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "operation_duration_seconds",
			Help:      "Time to run an incident lifecycle operation",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	partialFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "incidents",
			Name:      "partial_failures_total",
			Help:      "Operations that left external systems out of sync, by failed step",
		},
		[]string{"operation", "step"},
	)
)

func recordOperation(operation string, err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	operationsTotal.WithLabelValues(operation, result).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func recordPartialFailure(operation, step string) {
	partialFailures.WithLabelValues(operation, step).Inc()
}
