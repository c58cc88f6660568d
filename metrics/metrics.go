// Package metrics exports engine counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the engine reports. A nil *Metrics is valid
// and turns all recording methods into no-ops, which keeps the metrics toggle
// out of the call sites.
type Metrics struct {
	registry *prometheus.Registry

	messagesProcessed *prometheus.CounterVec
	classifierErrors  prometheus.Counter
	requestsCreated   *prometheus.CounterVec
	alertsSent        *prometheus.CounterVec
	raceLostClaims    prometheus.Counter
	jobRetries        *prometheus.CounterVec
	responseMinutes   prometheus.Histogram
	queueDepth        *prometheus.GaugeVec
}

// New creates the registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{registry: registry}

	m.messagesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replywatch",
			Name:      "messages_processed_total",
			Help:      "Incoming messages handled by the ingress pipeline",
		},
		[]string{"branch"}, // responder, client, skipped
	)

	m.classifierErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "replywatch",
			Name:      "classifier_errors_total",
			Help:      "Classifier calls that failed and dropped the message",
		},
	)

	m.requestsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replywatch",
			Name:      "requests_created_total",
			Help:      "Tracked requests opened, by classification label",
		},
		[]string{"classification"},
	)

	m.alertsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replywatch",
			Name:      "alerts_sent_total",
			Help:      "SLA alerts created, by type and escalation level",
		},
		[]string{"type", "level"},
	)

	m.raceLostClaims = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "replywatch",
			Name:      "race_lost_claims_total",
			Help:      "Answer claims that lost the conditional status update",
		},
	)

	m.jobRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "replywatch",
			Name:      "job_retries_total",
			Help:      "Delayed jobs rescheduled after a handler failure",
		},
		[]string{"queue"},
	)

	m.responseMinutes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "replywatch",
			Name:      "response_working_minutes",
			Help:      "Working minutes between a request and its answer",
			Buckets:   []float64{5, 15, 30, 60, 120, 240, 480, 960},
		},
	)

	m.queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "replywatch",
			Name:      "queue_depth",
			Help:      "Pending jobs per queue, sampled by the worker pool",
		},
		[]string{"queue"},
	)

	registry.MustRegister(
		m.messagesProcessed,
		m.classifierErrors,
		m.requestsCreated,
		m.alertsSent,
		m.raceLostClaims,
		m.jobRetries,
		m.responseMinutes,
		m.queueDepth,
	)
	return m
}

// Handler serves the registry for GET /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageProcessed(branch string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(branch).Inc()
}

func (m *Metrics) ClassifierError() {
	if m == nil {
		return
	}
	m.classifierErrors.Inc()
}

func (m *Metrics) RequestCreated(classification string) {
	if m == nil {
		return
	}
	m.requestsCreated.WithLabelValues(classification).Inc()
}

func (m *Metrics) AlertSent(alertType string, level int) {
	if m == nil {
		return
	}
	m.alertsSent.WithLabelValues(alertType, strconv.Itoa(level)).Inc()
}

func (m *Metrics) RaceLostClaim() {
	if m == nil {
		return
	}
	m.raceLostClaims.Inc()
}

func (m *Metrics) JobRetried(queue string) {
	if m == nil {
		return
	}
	m.jobRetries.WithLabelValues(queue).Inc()
}

func (m *Metrics) ResponseMinutes(minutes int) {
	if m == nil {
		return
	}
	m.responseMinutes.Observe(float64(minutes))
}

func (m *Metrics) SetQueueDepth(queue string, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(depth))
}
