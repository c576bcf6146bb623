// Package metrics exposes FireWatch Prometheus collectors.
//
// A nil *Metrics is valid: every method is a no-op, so components can be
// built without metrics in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "firewatch"

// Metrics bundles the service collectors.
type Metrics struct {
	registry *prometheus.Registry

	IngestTotal          *prometheus.CounterVec
	LivenessTransitions  *prometheus.CounterVec
	SweepDuration        prometheus.Histogram
	SweepErrors          prometheus.Counter
	DispatchTotal        *prometheus.CounterVec
	DispatchLatency      *prometheus.HistogramVec
	SessionsActive       prometheus.Gauge
	SessionRegistrations *prometheus.CounterVec
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New constructs the collectors and registers them, together with the Go
// runtime and process collectors, on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		IngestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_total",
				Help:      "Telemetry samples by source and result",
			},
			[]string{"source", "result"},
		),
		LivenessTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "liveness_transitions_total",
				Help:      "Device status transitions by target status",
			},
			[]string{"status"},
		),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "liveness_sweep_duration_seconds",
			Help:      "Liveness sweep duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_sweep_errors_total",
			Help:      "Per-device failures during liveness sweeps",
		}),
		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Device commands by action, mode and result",
			},
			[]string{"action", "mode", "result"},
		),
		DispatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_latency_seconds",
				Help:      "Device command latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action", "mode"},
		),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Registered push sessions",
		}),
		SessionRegistrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_registrations_total",
				Help:      "Push registrations by result",
			},
			[]string{"result"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "API requests by route pattern, method and status class",
			},
			[]string{"route", "method", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "API request duration in seconds by route pattern",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.IngestTotal,
		m.LivenessTransitions,
		m.SweepDuration,
		m.SweepErrors,
		m.DispatchTotal,
		m.DispatchLatency,
		m.SessionsActive,
		m.SessionRegistrations,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// ObserveIngest counts one telemetry sample.
func (m *Metrics) ObserveIngest(source, result string) {
	if m == nil {
		return
	}
	m.IngestTotal.WithLabelValues(source, result).Inc()
}

// ObserveTransition counts a device status change.
func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.LivenessTransitions.WithLabelValues(status).Inc()
}

// ObserveSweep records one reconciler sweep.
func (m *Metrics) ObserveSweep(elapsed time.Duration, failed int) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(elapsed.Seconds())
	m.SweepErrors.Add(float64(failed))
}

// ObserveDispatch records one device command.
func (m *Metrics) ObserveDispatch(action, mode, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(action, mode, result).Inc()
	m.DispatchLatency.WithLabelValues(action, mode).Observe(elapsed.Seconds())
}

// SetSessionsActive sets the push session gauge.
func (m *Metrics) SetSessionsActive(n int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(n))
}

// ObserveSessionRegistration counts a push registration attempt.
func (m *Metrics) ObserveSessionRegistration(result string) {
	if m == nil {
		return
	}
	m.SessionRegistrations.WithLabelValues(result).Inc()
}

// ObserveHTTP records one API request. Status is reduced to its class
// (2xx, 4xx, ...) to bound cardinality.
func (m *Metrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status/100)+"xx").Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
