// Package metrics exposes queue and idempotency activity as Prometheus
// metrics.
//
// Metrics are registered on the Registerer given to New, so tests can use
// an isolated prometheus.NewRegistry().
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/roach88/graphwriter/internal/idempotency"
	"github.com/roach88/graphwriter/internal/model"
)

const namespace = "graphwriter"

// Metrics implements queue.Observer.
//
// Thread-safety: all methods are safe for concurrent use.
type Metrics struct {
	// Submitted counts accepted submissions.
	Submitted prometheus.Counter

	// Finished counts terminal operations.
	// Labels: status (complete, error), code (diagnosis code or "none")
	Finished *prometheus.CounterVec

	// Depth is the number of operations per non-terminal status.
	// Labels: status (queued, processing)
	Depth *prometheus.GaugeVec

	// QueueWait measures time from submission to the start of execution.
	QueueWait prometheus.Histogram

	// BatchDuration measures time from the start of execution to the
	// terminal status.
	// Labels: status
	BatchDuration *prometheus.HistogramVec

	// Cleaned counts operations removed by retention cleanup.
	Cleaned prometheus.Counter

	// Idempotency counts Reserve outcomes.
	// Labels: outcome (new, replay, in_progress, conflict, disabled)
	Idempotency *prometheus.CounterVec
}

// New creates and registers every metric on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_submitted_total",
			Help:      "Total number of operations submitted",
		}),
		Finished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_finished_total",
			Help:      "Total number of operations that reached a terminal status",
		}, []string{"status", "code"}),
		Depth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations",
			Help:      "Operations currently queued or processing",
		}, []string{"status"}),
		QueueWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time operations spent queued before execution",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "batch_duration_seconds",
			Help:      "Time from start of execution to terminal status",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"status"}),
		Cleaned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_cleaned_total",
			Help:      "Total number of terminal operations removed by retention cleanup",
		}),
		Idempotency: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "idempotency",
			Name:      "reservations_total",
			Help:      "Idempotency reservations by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) OperationSubmitted() {
	m.Submitted.Inc()
}

func (m *Metrics) OperationStarted(wait time.Duration) {
	m.QueueWait.Observe(wait.Seconds())
}

func (m *Metrics) OperationFinished(status model.Status, code string, elapsed time.Duration) {
	if code == "" {
		code = "none"
	}
	m.Finished.WithLabelValues(string(status), code).Inc()
	m.BatchDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (m *Metrics) QueueDepth(queued, processing int) {
	m.Depth.WithLabelValues(string(model.StatusQueued)).Set(float64(queued))
	m.Depth.WithLabelValues(string(model.StatusProcessing)).Set(float64(processing))
}

func (m *Metrics) OperationsCleaned(n int) {
	m.Cleaned.Add(float64(n))
}

// Reservation records the outcome of an idempotency Reserve call.
func (m *Metrics) Reservation(outcome idempotency.Outcome) {
	m.Idempotency.WithLabelValues(string(outcome)).Inc()
}
