// Package metrics exposes Prometheus instrumentation for the request client
// and the stream connection manager.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "missioncontrol"

// Metrics holds every collector registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	RequestAttemptsTotal *prometheus.CounterVec
	RequestsTotal        *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec

	StreamState           *prometheus.GaugeVec
	StreamReconnectsTotal prometheus.Counter
	StreamMessagesTotal   *prometheus.CounterVec
	StreamDecodeFailures  prometheus.Counter
	StreamBufferLength    prometheus.Gauge
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RequestAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "apiclient",
				Name:      "attempts_total",
				Help:      "Total number of HTTP attempts, including retries",
			},
			[]string{"method", "outcome"},
		),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "apiclient",
				Name:      "requests_total",
				Help:      "Total number of logical requests by final result",
			},
			[]string{"method", "result"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "apiclient",
				Name:      "request_duration_seconds",
				Help:      "Duration of logical requests including retry delays",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		StreamState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "state",
				Help:      "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		StreamReconnectsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "reconnects_total",
				Help:      "Total number of automatic reconnection attempts",
			},
		),
		StreamMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "messages_total",
				Help:      "Total number of delivered stream messages by kind",
			},
			[]string{"kind"},
		),
		StreamDecodeFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "decode_failures_total",
				Help:      "Total number of dropped malformed stream payloads",
			},
		),
		StreamBufferLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "buffer_length",
				Help:      "Number of messages currently held in the bounded buffer",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RequestAttemptsTotal,
		m.RequestsTotal,
		m.RequestDuration,
		m.StreamState,
		m.StreamReconnectsTotal,
		m.StreamMessagesTotal,
		m.StreamDecodeFailures,
		m.StreamBufferLength,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler serving the registry in the exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveAttempt counts one HTTP attempt. outcome is "success", "status_error",
// "timeout" or "transport_error".
func (m *Metrics) ObserveAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.RequestAttemptsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveRequest records the final result of a logical request.
func (m *Metrics) ObserveRequest(method, result string, seconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, result).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(seconds)
}

// SetStreamState marks state as current and clears the others.
func (m *Metrics) SetStreamState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.StreamState.WithLabelValues(s).Set(v)
	}
}

// IncReconnects counts an automatic reconnection attempt.
func (m *Metrics) IncReconnects() {
	if m == nil {
		return
	}
	m.StreamReconnectsTotal.Inc()
}

// ObserveMessage counts a delivered message and records the buffer length.
func (m *Metrics) ObserveMessage(kind string, bufferLen int) {
	if m == nil {
		return
	}
	m.StreamMessagesTotal.WithLabelValues(kind).Inc()
	m.StreamBufferLength.Set(float64(bufferLen))
}

// IncDecodeFailures counts a dropped malformed payload.
func (m *Metrics) IncDecodeFailures() {
	if m == nil {
		return
	}
	m.StreamDecodeFailures.Inc()
}

// SetBufferLength records the buffer length after a clear.
func (m *Metrics) SetBufferLength(n int) {
	if m == nil {
		return
	}
	m.StreamBufferLength.Set(float64(n))
}
