package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	finalizedTotal  prometheus.Counter
	proctorEvents   *prometheus.CounterVec
	upstreamCalls   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "exam_sessions_active",
		Help: "Exam sessions currently in progress",
	})

	finalizedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "exam_sessions_finalized_total",
		Help: "Total exam sessions finalized",
	})

	proctorEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proctor_events_total",
		Help: "Proctoring events recorded, by kind",
	}, []string{"kind"})

	upstreamCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_calls_total",
		Help: "Calls to external providers, by provider and outcome",
	}, []string{"provider", "outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, activeSessions, finalizedTotal, proctorEvents, upstreamCalls, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		activeSessions:  activeSessions,
		finalizedTotal:  finalizedTotal,
		proctorEvents:   proctorEvents,
		upstreamCalls:   upstreamCalls,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request timing and count.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// SessionStarted bumps the active-session gauge.
func (m *MetricsService) SessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionFinalized decrements the gauge and counts the finalization.
func (m *MetricsService) SessionFinalized() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
	m.finalizedTotal.Inc()
}

// RecordProctorEvent counts a proctoring event by kind.
func (m *MetricsService) RecordProctorEvent(kind string) {
	if m == nil {
		return
	}
	m.proctorEvents.WithLabelValues(kind).Inc()
}

// RecordUpstreamCall counts a provider call outcome ("ok", "timeout", "error").
func (m *MetricsService) RecordUpstreamCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.upstreamCalls.WithLabelValues(provider, outcome).Inc()
}
