package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "overlay"

// Metrics is the HTTP surface's own registry. Other components (the
// viewer reconciler) register on it so one /metrics page covers the
// process. All methods are no-ops on a nil *Metrics.
type Metrics struct {
	reg *prometheus.Registry

	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	throttled   prometheus.Counter
	wsClients   prometheus.Gauge
	delivered   *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	segmentPuts *prometheus.CounterVec
}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: metricsNamespace, Name: name, Help: help}, labels)
}

func newMetrics() *Metrics {
	m := &Metrics{
		reg:       prometheus.NewRegistry(),
		requests:  counterVec("http_requests_total", "HTTP requests by route, method and status", "route", "method", "status"),
		delivered: counterVec("events_sent_total", "Change events delivered to subscribers", "transport"),
		dropped:   counterVec("broadcast_drops_total", "Events dropped for a slow subscriber", "transport"),
		segmentPuts: counterVec("segment_writes_total", "Segment writes by channel kind and result",
			"kind", "result"),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
		}, []string{"route", "method"}),
		throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_rate_limited_total",
			Help:      "Requests refused by the per-client rate limit",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "ws_clients",
			Help:      "Connected websocket clients",
		}),
	}
	m.reg.MustRegister(m.requests, m.latency, m.throttled, m.wsClients, m.delivered, m.dropped, m.segmentPuts)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(route, method string, status int, took time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(took.Seconds())
}

func (m *Metrics) IncRateLimited() {
	if m != nil {
		m.throttled.Inc()
	}
}

// IncWSClients moves the websocket gauge by delta (+1 on connect, -1 on
// disconnect).
func (m *Metrics) IncWSClients(delta float64) {
	if m != nil {
		m.wsClients.Add(delta)
	}
}

func (m *Metrics) IncEventsSent(transport string) {
	if m != nil {
		m.delivered.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) IncBroadcastDrops(transport string) {
	if m != nil {
		m.dropped.WithLabelValues(transport).Inc()
	}
}

func (m *Metrics) IncSegmentWrite(kind, result string) {
	if m != nil {
		m.segmentPuts.WithLabelValues(kind, result).Inc()
	}
}
