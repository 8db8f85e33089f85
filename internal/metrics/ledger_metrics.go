package metrics

import "github.com/prometheus/client_golang/prometheus"

// LedgerMetrics - метрики оптимистичного списания остатков.
type LedgerMetrics struct {
	reservations  *prometheus.CounterVec
	casConflicts  prometheus.Counter
	attempts      prometheus.Histogram
	compensations *prometheus.CounterVec
}

// NewLedgerMetrics регистрирует метрики в DefaultRegisterer.
func NewLedgerMetrics() *LedgerMetrics {
	return NewLedgerMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewLedgerMetricsWithRegisterer позволяет использовать изолированный registry.
func NewLedgerMetricsWithRegisterer(registerer prometheus.Registerer) *LedgerMetrics {
	registerer = registererOrDefault(registerer)

	return &LedgerMetrics{
		reservations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_ledger_reservations_total",
			Help: "Stock reservations grouped by result",
		}, []string{"result"}),
		casConflicts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_ledger_cas_conflicts_total",
			Help: "Total number of failed compare-and-swap decrements",
		}),
		attempts: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pos_ledger_reserve_attempts",
			Help:    "Number of optimistic attempts used per reservation",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		compensations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_ledger_compensations_total",
			Help: "Stock give-backs (rollback, release, restock) grouped by result",
		}, []string{"result"}),
	}
}

// RecordReservation фиксирует итог резервирования и число попыток.
func (m *LedgerMetrics) RecordReservation(result string, attempts int) {
	if m == nil {
		return
	}
	m.reservations.WithLabelValues(result).Inc()
	m.attempts.Observe(float64(attempts))
}

// RecordConflict увеличивает счётчик конфликтов CAS.
func (m *LedgerMetrics) RecordConflict() {
	if m == nil {
		return
	}
	m.casConflicts.Inc()
}

// RecordCompensation фиксирует возврат остатка.
func (m *LedgerMetrics) RecordCompensation(result string) {
	if m == nil {
		return
	}
	m.compensations.WithLabelValues(result).Inc()
}
