// Package metrics owns the prometheus registry and the instruments shared
// across components. All methods are nil-safe so tests can pass a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	notificationsSent    *prometheus.CounterVec
	notificationsRetried *prometheus.CounterVec
	notificationsDropped *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.notificationsSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_notifications_sent_total",
		Help: "Notification emails delivered, by task type.",
	}, []string{"type"})
	m.notificationsRetried = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_notifications_retried_total",
		Help: "Delivery attempts that failed and were rescheduled, by task type.",
	}, []string{"type"})
	m.notificationsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_notifications_dropped_total",
		Help: "Notifications dropped after exhausting all attempts, by task type.",
	}, []string{"type"})

	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "roomsched_http_requests_total",
		Help: "HTTP requests served, by method and status code.",
	}, []string{"method", "code"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "roomsched_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	m.registry.MustRegister(
		m.notificationsSent,
		m.notificationsRetried,
		m.notificationsDropped,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterQueueDepth exposes queue depth gauges backed by live callbacks.
func (m *Metrics) RegisterQueueDepth(pending, inflight func() int) {
	if m == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "roomsched_notification_queue_pending",
			Help: "Notification tasks waiting in the queue.",
		}, func() float64 { return float64(pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "roomsched_notification_queue_inflight",
			Help: "Notification tasks currently being delivered.",
		}, func() float64 { return float64(inflight()) }),
	)
}

func (m *Metrics) NotificationSent(taskType string) {
	if m == nil {
		return
	}
	m.notificationsSent.WithLabelValues(taskType).Inc()
}

func (m *Metrics) NotificationRetried(taskType string) {
	if m == nil {
		return
	}
	m.notificationsRetried.WithLabelValues(taskType).Inc()
}

func (m *Metrics) NotificationDropped(taskType string) {
	if m == nil {
		return
	}
	m.notificationsDropped.WithLabelValues(taskType).Inc()
}

func (m *Metrics) ObserveHTTP(method string, code int, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, httpCode(code)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(took.Seconds())
}

func httpCode(code int) string {
	// Collapse to class to keep cardinality low.
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
