package metrics

import "github.com/prometheus/client_golang/prometheus"

// NotifyMetrics - метрики диспетчера уведомлений.
type NotifyMetrics struct {
	enqueued    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	deadLetters *prometheus.CounterVec
	queueDepth  prometheus.Gauge
}

// NewNotifyMetrics регистрирует метрики в DefaultRegisterer.
func NewNotifyMetrics() *NotifyMetrics {
	return NewNotifyMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewNotifyMetricsWithRegisterer позволяет использовать изолированный registry.
func NewNotifyMetricsWithRegisterer(registerer prometheus.Registerer) *NotifyMetrics {
	registerer = registererOrDefault(registerer)

	return &NotifyMetrics{
		enqueued: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_notify_enqueued_total",
			Help: "Notification events accepted by the dispatcher grouped by event type",
		}, []string{"event_type"}),
		dropped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_notify_dropped_total",
			Help: "Notification events dropped before delivery grouped by reason",
		}, []string{"reason"}),
		deliveries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_notify_delivery_attempts_total",
			Help: "Notification delivery attempts grouped by channel and result",
		}, []string{"channel", "result"}),
		deadLetters: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_notify_dead_letters_total",
			Help: "Notification events that exhausted retries grouped by channel",
		}, []string{"channel"}),
		queueDepth: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "pos_notify_queue_depth",
			Help: "Current number of events waiting in the notification queue",
		}),
	}
}

// RecordEnqueued фиксирует принятое событие.
func (m *NotifyMetrics) RecordEnqueued(eventType string) {
	if m == nil {
		return
	}
	m.enqueued.WithLabelValues(eventType).Inc()
}

// RecordDropped фиксирует отброшенное событие (evicted, rejected, coalesced, no_channel).
func (m *NotifyMetrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// RecordDelivery фиксирует результат одной попытки доставки.
func (m *NotifyMetrics) RecordDelivery(channel, result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
}

// RecordDeadLetter фиксирует исчерпание попыток.
func (m *NotifyMetrics) RecordDeadLetter(channel string) {
	if m == nil {
		return
	}
	m.deadLetters.WithLabelValues(channel).Inc()
}

// SetQueueDepth обновляет глубину очереди.
func (m *NotifyMetrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
