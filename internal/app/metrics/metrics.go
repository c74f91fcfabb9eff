// Package metrics exposes Prometheus instrumentation for the HTTP surface
// and the marketplace domain.
package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors on a private registry so tests can create
// isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	JobsCreated       prometheus.Counter
	JobsCompleted     prometheus.Counter
	PaymentsCompleted prometheus.Counter
	PaymentsFailed    prometheus.Counter
	MatchAlerts       prometheus.Counter
	ActiveSessions    prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		JobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_created_total",
			Help: "Jobs posted by clients.",
		}),
		JobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Jobs finished by cleaners.",
		}),
		PaymentsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_completed_total",
			Help: "Payments settled by the provider.",
		}),
		PaymentsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "payments_failed_total",
			Help: "Payments rejected or cancelled.",
		}),
		MatchAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "match_alerts_total",
			Help: "Match notifications sent to cleaners.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracking_active_sessions",
			Help: "Currently running work sessions.",
		}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpDuration,
		m.JobsCreated, m.JobsCompleted,
		m.PaymentsCompleted, m.PaymentsFailed,
		m.MatchAlerts, m.ActiveSessions,
	)
	return m
}

// Handler serves the scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes WebSocket upgrades through to the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Instrument wraps a handler, recording count and latency under the given
// route label.
func (m *Metrics) Instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
