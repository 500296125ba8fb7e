// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waveq/waveq-engine/pkg/models"
)

// Metrics holds the engine's collectors on a private registry so multiple
// engines (tests included) never fight over global registration.
type Metrics struct {
	registry *prometheus.Registry

	submitted  *prometheus.CounterVec
	terminal   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	processing prometheus.Histogram
	opDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waveq_requests_submitted_total",
				Help: "Edit requests accepted into the queue, by priority tier",
			},
			[]string{"priority"},
		),
		terminal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waveq_requests_terminal_total",
				Help: "Edit requests that reached a terminal state",
			},
			[]string{"status"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waveq_requests_rejected_total",
				Help: "Edit requests rejected before admission",
			},
			[]string{"reason"},
		),
		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "waveq_queue_depth",
				Help: "Requests waiting for dispatch, by priority tier",
			},
			[]string{"priority"},
		),
		processing: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "waveq_request_processing_seconds",
				Help:    "Wall time from dispatch to terminal state",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),
		opDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "waveq_operation_duration_seconds",
				Help:    "Execution time per operation kind",
				Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(m.submitted, m.terminal, m.rejected, m.queueDepth, m.processing, m.opDuration)
	m.registry.MustRegister(collectors.NewGoCollector())
	return m
}

func (m *Metrics) Submitted(priority models.Priority) {
	m.submitted.WithLabelValues(strconv.Itoa(int(priority))).Inc()
}

func (m *Metrics) Terminal(status models.RequestStatus, processingMS float64) {
	m.terminal.WithLabelValues(string(status)).Inc()
	if processingMS > 0 {
		m.processing.Observe(processingMS / 1000)
	}
}

func (m *Metrics) Rejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueDepth(stats map[models.Priority]int) {
	for priority, depth := range stats {
		m.queueDepth.WithLabelValues(strconv.Itoa(int(priority))).Set(float64(depth))
	}
}

func (m *Metrics) ObserveOperation(kind models.OperationKind, seconds float64) {
	m.opDuration.WithLabelValues(string(kind)).Observe(seconds)
}

// Handler serves this registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
