package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SaleMetrics содержит метрики проведения и аннулирования продаж.
// Методы безопасны для nil-получателя: компонент без метрик просто их не пишет.
type SaleMetrics struct {
	committed prometheus.Counter
	aborted   *prometheus.CounterVec
	replayed  prometheus.Counter
	voided    prometheus.Counter

	commitDuration prometheus.Histogram
	stageDuration  *prometheus.HistogramVec

	journalEvents prometheus.Counter
	inFlight      prometheus.Gauge
}

// NewSaleMetrics регистрирует метрики в DefaultRegisterer.
func NewSaleMetrics() *SaleMetrics {
	return NewSaleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSaleMetricsWithRegisterer позволяет использовать изолированный registry (тесты).
func NewSaleMetricsWithRegisterer(registerer prometheus.Registerer) *SaleMetrics {
	registerer = registererOrDefault(registerer)

	return &SaleMetrics{
		committed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_committed_total",
			Help: "Total number of sales committed",
		}),
		aborted: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_sales_aborted_total",
			Help: "Total number of aborted commit attempts grouped by reason",
		}, []string{"reason"}),
		replayed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_replayed_total",
			Help: "Total number of commit calls answered with an already committed sale",
		}),
		voided: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_voided_total",
			Help: "Total number of sales voided",
		}),
		commitDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pos_sale_commit_duration_seconds",
			Help:    "Duration of sale commit calls in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stageDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_sale_commit_stage_duration_seconds",
			Help:    "Duration of individual commit stages in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"stage"}),
		journalEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sale_journal_events_total",
			Help: "Total number of sale journal events recorded",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_sale_commits_in_flight",
			Help: "Number of commit calls currently in progress",
		}),
	}
}

// RecordCommitStarted увеличивает число выполняющихся коммитов.
func (m *SaleMetrics) RecordCommitStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RecordCommitFinished фиксирует длительность и уменьшает число выполняющихся коммитов.
func (m *SaleMetrics) RecordCommitFinished(duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.commitDuration.Observe(duration.Seconds())
}

// RecordCommitted увеличивает счётчик проведённых продаж.
func (m *SaleMetrics) RecordCommitted() {
	if m == nil {
		return
	}
	m.committed.Inc()
}

// RecordAborted увеличивает счётчик прерванных коммитов с причиной.
func (m *SaleMetrics) RecordAborted(reason string) {
	if m == nil {
		return
	}
	m.aborted.WithLabelValues(reason).Inc()
}

// RecordReplayed увеличивает счётчик повторных коммитов с тем же saleID.
func (m *SaleMetrics) RecordReplayed() {
	if m == nil {
		return
	}
	m.replayed.Inc()
}

// RecordVoided увеличивает счётчик аннулированных продаж.
func (m *SaleMetrics) RecordVoided() {
	if m == nil {
		return
	}
	m.voided.Inc()
}

// RecordStageDuration записывает длительность этапа коммита.
func (m *SaleMetrics) RecordStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordJournalEvent увеличивает счётчик событий журнала.
func (m *SaleMetrics) RecordJournalEvent() {
	if m == nil {
		return
	}
	m.journalEvents.Inc()
}
