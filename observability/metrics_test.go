package observability_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/xraph/courier/observability"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		out[f.GetName()] = f
	}
	return out
}

func TestRecordAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.RecordAttempt("success", 0.5)
	m.RecordAttempt("success", 1.2)
	m.RecordAttempt("retry", 0.3)

	fams := gather(t, reg)
	f, ok := fams["courier_delivery_attempts_total"]
	if !ok {
		t.Fatal("courier_delivery_attempts_total metric not found")
	}
	if len(f.GetMetric()) != 2 {
		t.Fatalf("expected 2 label combinations, got %d", len(f.GetMetric()))
	}

	h, ok := fams["courier_delivery_attempt_duration_seconds"]
	if !ok {
		t.Fatal("latency histogram not found")
	}
	if got := h.GetMetric()[0].GetHistogram().GetSampleCount(); got != 3 {
		t.Fatalf("expected 3 samples, got %d", got)
	}
}

func TestEventDispatched(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.EventDispatched(3)
	m.EventDispatched(0)

	fams := gather(t, reg)
	if got := fams["courier_events_dispatched_total"].GetMetric()[0].GetCounter().GetValue(); got != 2 {
		t.Fatalf("events: expected 2, got %f", got)
	}
	if got := fams["courier_deliveries_created_total"].GetMetric()[0].GetCounter().GetValue(); got != 3 {
		t.Fatalf("deliveries: expected 3, got %f", got)
	}
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)

	m.DeadLettered()
	m.Requeue()
	m.Requeue()
	m.Reconcile(4)
	m.QueueError("push")

	want := map[string]float64{
		"courier_dead_letters_total": 1,
		"courier_requeued_total":     2,
		"courier_reconciled_total":   4,
		"courier_queue_errors_total": 1,
	}
	fams := gather(t, reg)
	for name, expected := range want {
		f, ok := fams[name]
		if !ok {
			t.Fatalf("%s not found", name)
		}
		if got := f.GetMetric()[0].GetCounter().GetValue(); got != expected {
			t.Fatalf("%s: expected %f, got %f", name, expected, got)
		}
	}
}

func TestNilMetricsIsNoop(_ *testing.T) {
	var m *observability.Metrics
	m.EventDispatched(1)
	m.RecordAttempt("dead", 0)
	m.QueueError("pop")
	m.DeadLettered()
	m.Requeue()
	m.Reconcile(2)
}
