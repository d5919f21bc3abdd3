// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the delivery pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "courier"

// Metrics holds metric instruments for Courier. All methods are safe to call
// on a nil *Metrics.
type Metrics struct {
	EventsDispatched  prometheus.Counter
	DeliveriesCreated prometheus.Counter
	Attempts          *prometheus.CounterVec
	AttemptLatency    prometheus.Histogram
	QueueErrors       *prometheus.CounterVec
	DeadLetters       prometheus.Counter
	Requeued          prometheus.Counter
	Reconciled        prometheus.Counter
}

// NewMetrics creates Courier metric instruments and registers them with reg.
// A nil reg leaves the instruments unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsDispatched: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events accepted by the dispatcher.",
		}),
		DeliveriesCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_created_total",
			Help:      "Delivery records created by fan-out.",
		}),
		Attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_attempts_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"outcome"}),
		AttemptLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "delivery_attempt_duration_seconds",
			Help:      "Latency of outbound delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		QueueErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_errors_total",
			Help:      "Queue operation failures by operation.",
		}, []string{"op"}),
		DeadLetters: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letters_total",
			Help:      "Deliveries moved to dead.",
		}),
		Requeued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requeued_total",
			Help:      "Deliveries put back on the queue by requeue or redeliver.",
		}),
		Reconciled: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_total",
			Help:      "Orphaned pending deliveries re-enqueued by the reconciler.",
		}),
	}
}

// EventDispatched records one dispatched event fanned out to n deliveries.
func (m *Metrics) EventDispatched(n int) {
	if m == nil {
		return
	}
	m.EventsDispatched.Inc()
	m.DeliveriesCreated.Add(float64(n))
}

// RecordAttempt records a delivery attempt with the given outcome and latency.
func (m *Metrics) RecordAttempt(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
	m.AttemptLatency.Observe(latencySeconds)
}

// QueueError records a failed queue operation.
func (m *Metrics) QueueError(op string) {
	if m == nil {
		return
	}
	m.QueueErrors.WithLabelValues(op).Inc()
}

// DeadLettered records a delivery going dead.
func (m *Metrics) DeadLettered() {
	if m == nil {
		return
	}
	m.DeadLetters.Inc()
}

// Requeue records a delivery put back on the queue by an operator.
func (m *Metrics) Requeue() {
	if m == nil {
		return
	}
	m.Requeued.Inc()
}

// Reconcile records n deliveries re-enqueued by a sweep.
func (m *Metrics) Reconcile(n int) {
	if m == nil || n == 0 {
		return
	}
	m.Reconciled.Add(float64(n))
}
