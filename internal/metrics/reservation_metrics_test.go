package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := c.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := g.Write(metric); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	return metric.Gauge.GetValue()
}

func TestNewReservationMetrics(t *testing.T) {
	m := NewReservationMetricsWithRegisterer(prometheus.NewRegistry())

	if m.ordersPlaced == nil || m.ordersFailed == nil || m.ordersCompleted == nil {
		t.Fatal("order counters should not be nil")
	}
	if m.compensations == nil || m.persistFailures == nil {
		t.Fatal("compensation counters should not be nil")
	}
	if m.placeDuration == nil || m.stepDuration == nil {
		t.Fatal("histograms should not be nil")
	}
	if m.inFlight == nil {
		t.Fatal("in-flight gauge should not be nil")
	}
}

func TestReservationMetricsReuseRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first := NewReservationMetricsWithRegisterer(reg)
	second := NewReservationMetricsWithRegisterer(reg)

	first.RecordOrderPlaced()
	second.RecordOrderPlaced()

	if got := counterValue(t, first.ordersPlaced); got != 2 {
		t.Errorf("expected shared counter value 2, got %f", got)
	}
}

func TestRecordPlaceLifecycle(t *testing.T) {
	m := NewReservationMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordPlaceStarted()
	m.RecordPlaceStarted()
	if got := gaugeValue(t, m.inFlight); got != 2 {
		t.Errorf("expected 2 in flight, got %f", got)
	}

	m.RecordPlaceFinished(10 * time.Millisecond)
	if got := gaugeValue(t, m.inFlight); got != 1 {
		t.Errorf("expected 1 in flight, got %f", got)
	}
}

func TestRecordOrderFailedByReason(t *testing.T) {
	m := NewReservationMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordOrderFailed(FailureCapacity)
	m.RecordOrderFailed(FailureCapacity)
	m.RecordOrderFailed(FailureValidation)

	if got := counterValue(t, m.ordersFailed.WithLabelValues(FailureCapacity)); got != 2 {
		t.Errorf("expected 2 capacity failures, got %f", got)
	}
	if got := counterValue(t, m.ordersFailed.WithLabelValues(FailureValidation)); got != 1 {
		t.Errorf("expected 1 validation failure, got %f", got)
	}
	if got := counterValue(t, m.ordersFailed.WithLabelValues(FailurePersistence)); got != 0 {
		t.Errorf("expected no persistence failures, got %f", got)
	}
}

func TestRecordCompensationAndPersistFailure(t *testing.T) {
	m := NewReservationMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordCompensation()
	m.RecordCompensation()
	m.RecordPersistFailure()
	m.RecordOrderCompleted()
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()

	if got := counterValue(t, m.compensations); got != 2 {
		t.Errorf("expected 2 compensations, got %f", got)
	}
	if got := counterValue(t, m.persistFailures); got != 1 {
		t.Errorf("expected 1 persist failure, got %f", got)
	}
	if got := counterValue(t, m.ordersCompleted); got != 1 {
		t.Errorf("expected 1 completed order, got %f", got)
	}
	if got := counterValue(t, m.timelineEvents); got != 1 {
		t.Errorf("expected 1 timeline event, got %f", got)
	}
	if got := counterValue(t, m.outboxEvents); got != 1 {
		t.Errorf("expected 1 outbox event, got %f", got)
	}
}

func TestRecordStepDuration(t *testing.T) {
	m := NewReservationMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordStepDuration("reserve", 5*time.Millisecond)
	m.RecordStepDuration("reserve", 15*time.Millisecond)

	observer, err := m.stepDuration.GetMetricWithLabelValues("reserve")
	if err != nil {
		t.Fatalf("get histogram: %v", err)
	}
	metric := &dto.Metric{}
	if err := observer.(prometheus.Histogram).Write(metric); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 2 {
		t.Errorf("expected 2 samples, got %d", metric.Histogram.GetSampleCount())
	}
}

func TestKeySweepMetrics(t *testing.T) {
	m := NewKeySweepMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordSweep(3)
	m.RecordSweepFailed(2)
	m.RecordSweep(0)

	if got := counterValue(t, m.deleted); got != 5 {
		t.Fatalf("deleted = %v, want 5", got)
	}
	if got := gaugeValue(t, m.lastDeleted); got != 0 {
		t.Fatalf("last deleted = %v, want 0", got)
	}
	if got := counterValue(t, m.sweeps.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok sweeps = %v, want 2", got)
	}
	if got := counterValue(t, m.sweeps.WithLabelValues("error")); got != 1 {
		t.Fatalf("failed sweeps = %v, want 1", got)
	}
}
