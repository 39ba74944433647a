package utils

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LedgerMetrics содержит метрики ядра платежного журнала
type LedgerMetrics struct {
	registry            *prometheus.Registry
	eventsRecorded      *prometheus.CounterVec
	eventsReversed      *prometheus.CounterVec
	waiversApplied      *prometheus.CounterVec
	waiversRejected     *prometheus.CounterVec
	transitionsRejected *prometheus.CounterVec
	lateFeesRejected    prometheus.Counter
	dispatchFailures    *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
}

// NewLedgerMetrics создает метрики в отдельном реестре
func NewLedgerMetrics(registry *prometheus.Registry) *LedgerMetrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &LedgerMetrics{
		registry: registry,
		eventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payment_events_recorded_total",
			Help: "Payment events appended to the ledger",
		}, []string{"event_type"}),
		eventsReversed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_payment_events_reversed_total",
			Help: "Payment events voided by a compensating entry",
		}, []string{"event_type"}),
		waiversApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_waivers_applied_total",
			Help: "Waivers authorized or applied",
		}, []string{"component", "variant"}),
		waiversRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_waivers_rejected_total",
			Help: "Waivers rejected by precondition step",
		}, []string{"step"}),
		transitionsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transitions_rejected_total",
			Help: "Status transitions rejected by the workflow table",
		}, []string{"workflow"}),
		lateFeesRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "ledger_late_fees_rejected_total",
			Help: "Late fees rejected by the loan-level cap",
		}),
		dispatchFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_dispatch_failures_total",
			Help: "Post-commit messages that exhausted their retries",
		}, []string{"type"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "status"}),
	}
}

// RecordEvent записывает метрику нового события журнала
func (m *LedgerMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsRecorded.WithLabelValues(eventType).Inc()
}

// RecordReversal записывает метрику сторнирования
func (m *LedgerMetrics) RecordReversal(eventType string) {
	if m == nil {
		return
	}
	m.eventsReversed.WithLabelValues(eventType).Inc()
}

// RecordWaiver записывает метрику прощения долга
func (m *LedgerMetrics) RecordWaiver(component, variant string) {
	if m == nil {
		return
	}
	m.waiversApplied.WithLabelValues(component, variant).Inc()
}

// RecordWaiverRejected записывает отказ в прощении по шагу проверки
func (m *LedgerMetrics) RecordWaiverRejected(step int) {
	if m == nil {
		return
	}
	m.waiversRejected.WithLabelValues(strconv.Itoa(step)).Inc()
}

// RecordTransitionRejected записывает запрещенный переход
func (m *LedgerMetrics) RecordTransitionRejected(workflow string) {
	if m == nil {
		return
	}
	m.transitionsRejected.WithLabelValues(workflow).Inc()
}

// RecordLateFeeRejected записывает отказ в начислении штрафа
func (m *LedgerMetrics) RecordLateFeeRejected() {
	if m == nil {
		return
	}
	m.lateFeesRejected.Inc()
}

// RecordDispatchFailure записывает недоставленное сообщение
func (m *LedgerMetrics) RecordDispatchFailure(messageType string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(messageType).Inc()
}

// RecordRequest записывает метрики запроса
func (m *LedgerMetrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, strconv.Itoa(status)).Observe(duration.Seconds())
}

// Registry возвращает реестр метрик
func (m *LedgerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler возвращает HTTP обработчик /metrics
func (m *LedgerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
