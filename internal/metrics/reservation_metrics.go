package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Причины неудачного оформления заказа.
const (
	FailureValidation  = "validation"
	FailureCapacity    = "capacity"
	FailureSequence    = "sequence"
	FailurePersistence = "persistence"
	FailureInternal    = "internal"
)

// ReservationMetrics содержит метрики оформления заказов.
type ReservationMetrics struct {
	ordersPlaced    prometheus.Counter
	ordersFailed    *prometheus.CounterVec
	ordersCompleted prometheus.Counter
	compensations   prometheus.Counter
	persistFailures prometheus.Counter

	placeDuration prometheus.Histogram
	stepDuration  *prometheus.HistogramVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	inFlight prometheus.Gauge
}

// NewReservationMetrics регистрирует метрики в DefaultRegisterer.
func NewReservationMetrics() *ReservationMetrics {
	return NewReservationMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewReservationMetricsWithRegisterer регистрирует метрики в переданном registerer.
// Повторная регистрация возвращает уже существующие коллекторы.
func NewReservationMetricsWithRegisterer(registerer prometheus.Registerer) *ReservationMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &ReservationMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lessons_orders_placed_total",
			Help: "Total number of orders placed successfully",
		}),
		ordersFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "lessons_orders_failed_total",
			Help: "Total number of rejected order placements by reason",
		}, []string{"reason"}),
		ordersCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lessons_orders_completed_total",
			Help: "Total number of orders marked done",
		}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lessons_reservation_compensations_total",
			Help: "Total number of released reservations during rollback",
		}),
		persistFailures: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lessons_orders_persist_failures_total",
			Help: "Orders whose capacity was taken but the order row was not stored",
		}),
		placeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "lessons_place_order_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "lessons_place_order_step_duration_seconds",
			Help:    "Duration of individual placement steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lessons_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lessons_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "lessons_place_order_in_flight",
			Help: "Number of order placements currently in progress",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordPlaceStarted увеличивает число оформлений в работе.
func (m *ReservationMetrics) RecordPlaceStarted() {
	m.inFlight.Inc()
}

// RecordPlaceFinished уменьшает число оформлений в работе и пишет длительность.
func (m *ReservationMetrics) RecordPlaceFinished(duration time.Duration) {
	m.inFlight.Dec()
	m.placeDuration.Observe(duration.Seconds())
}

// RecordOrderPlaced увеличивает счётчик оформленных заказов.
func (m *ReservationMetrics) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

// RecordOrderFailed увеличивает счётчик отказов с указанной причиной.
func (m *ReservationMetrics) RecordOrderFailed(reason string) {
	m.ordersFailed.WithLabelValues(reason).Inc()
}

// RecordOrderCompleted увеличивает счётчик завершённых заказов.
func (m *ReservationMetrics) RecordOrderCompleted() {
	m.ordersCompleted.Inc()
}

// RecordCompensation учитывает один возврат мест при откате.
func (m *ReservationMetrics) RecordCompensation() {
	m.compensations.Inc()
}

// RecordPersistFailure учитывает заказ, места которого списаны без сохранения.
func (m *ReservationMetrics) RecordPersistFailure() {
	m.persistFailures.Inc()
}

// RecordStepDuration записывает время выполнения шага оформления.
func (m *ReservationMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *ReservationMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *ReservationMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
