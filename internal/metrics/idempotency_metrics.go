package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// KeySweepMetrics описывает очистку просроченных Idempotency-Key заказов.
type KeySweepMetrics struct {
	sweeps      *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewKeySweepMetrics регистрирует метрики в DefaultRegisterer.
func NewKeySweepMetrics() *KeySweepMetrics {
	return NewKeySweepMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewKeySweepMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewKeySweepMetricsWithRegisterer(registerer prometheus.Registerer) *KeySweepMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &KeySweepMetrics{
		sweeps: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "lessons_order_keys_sweeps_total",
			Help: "Total number of order idempotency key sweeps by result",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "lessons_order_keys_deleted_total",
			Help: "Total number of expired order idempotency keys deleted",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "lessons_order_keys_last_sweep_deleted",
			Help: "Number of order idempotency keys deleted by the last sweep",
		}),
	}
}

// RecordSweep учитывает завершённый проход очистки.
func (m *KeySweepMetrics) RecordSweep(deleted int) {
	m.sweeps.WithLabelValues("ok").Inc()
	m.deleted.Add(float64(deleted))
	m.lastDeleted.Set(float64(deleted))
}

// RecordSweepFailed учитывает проход, прерванный ошибкой хранилища.
// Уже удалённые ключи всё равно попадают в общий счётчик.
func (m *KeySweepMetrics) RecordSweepFailed(deleted int) {
	m.sweeps.WithLabelValues("error").Inc()
	m.deleted.Add(float64(deleted))
}
