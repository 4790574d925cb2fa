package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	upstreamRequestsTotal *prometheus.CounterVec
	upstreamDuration      *prometheus.HistogramVec
	admissionRejections   prometheus.Counter
	chatMessagesSent      prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewire_http_requests_total",
				Help: "Total number of HTTP requests handled.",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notewire_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
		upstreamRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notewire_upstream_requests_total",
				Help: "Total generateContent calls to the inference endpoint.",
			},
			[]string{"status"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notewire_upstream_request_duration_seconds",
				Help:    "Inference request duration in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		admissionRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notewire_admission_rejections_total",
				Help: "Uploads rejected by the concurrency gate.",
			},
		),
		chatMessagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notewire_chat_messages_sent_total",
				Help: "Messages delivered to the target chat.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.upstreamRequestsTotal,
		m.upstreamDuration,
		m.admissionRejections,
		m.chatMessagesSent,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "UNKNOWN"
	}
	statusLabel := strconv.Itoa(status)
	m.httpRequestsTotal.WithLabelValues(route, method, statusLabel).Inc()
	m.httpRequestDuration.WithLabelValues(route, method, statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) ObserveUpstream(status int, duration time.Duration) {
	if m == nil {
		return
	}
	statusLabel := strconv.Itoa(status)
	m.upstreamRequestsTotal.WithLabelValues(statusLabel).Inc()
	m.upstreamDuration.WithLabelValues(statusLabel).Observe(duration.Seconds())
}

func (m *Metrics) IncAdmissionRejection() {
	if m == nil {
		return
	}
	m.admissionRejections.Inc()
}

func (m *Metrics) IncChatMessageSent() {
	if m == nil {
		return
	}
	m.chatMessagesSent.Inc()
}
