// Package metrics exposes scheduler and HTTP metrics for Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "notifyd"

// Delay buckets in seconds, from "on time" up to a few days of throttling.
var delayBuckets = []float64{0, 1, 10, 30, 60, 300, 900, 3600, 6 * 3600, 86400, 2 * 86400, 7 * 86400}

// Metrics holds every collector registered by notifyd. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	submitted  *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	delay      *prometheus.HistogramVec
	shifts     prometheus.Counter
	storeSize  prometheus.Gauge
	queueDepth prometheus.Gauge

	httpDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		submitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_scheduled_total",
			Help:      "Notifications accepted and scheduled.",
		}, []string{"priority", "rule"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_rejected_total",
			Help:      "Notifications refused at intake.",
		}, []string{"reason"}),
		delay: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schedule_delay_seconds",
			Help:      "Scheduled time minus creation time.",
			Buckets:   delayBuckets,
		}, []string{"priority"}),
		shifts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cross_account_shifts_total",
			Help:      "Times a candidate was pushed past another account's entry.",
		}),
		storeSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "schedule_entries",
			Help:      "Entries held in the schedule store.",
		}),
		queueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "intake_queue_depth",
			Help:      "Notifications waiting for the scheduler worker.",
		}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method", "status"}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"path", "method", "status"}),
	}
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// CountDropped exports fn as a counter of event deliveries lost to full
// subscriber buffers.
func (m *Metrics) CountDropped(fn func() uint64) {
	if m == nil || fn == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Event deliveries skipped because a subscriber was full.",
	}, func() float64 { return float64(fn()) }))
}

// ObserveScheduled records one accepted notification.
func (m *Metrics) ObserveScheduled(priority, rule string, delay time.Duration, shifts, storeLen int) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(priority, rule).Inc()
	m.delay.WithLabelValues(priority).Observe(delay.Seconds())
	if shifts > 0 {
		m.shifts.Add(float64(shifts))
	}
	m.storeSize.Set(float64(storeLen))
}

func (m *Metrics) ObserveRejected(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Middleware records RED metrics labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			path = rc.RoutePattern()
		}
		status := strconv.Itoa(ww.Status())
		m.httpDuration.WithLabelValues(path, r.Method, status).Observe(time.Since(start).Seconds())
		m.httpRequests.WithLabelValues(path, r.Method, status).Inc()
	})
}
