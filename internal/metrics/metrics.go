package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the update broker and HTTP surface.
type Metrics struct {
	registry *prometheus.Registry

	Sessions          prometheus.Gauge
	EnvelopesSent     *prometheus.CounterVec
	Flushes           *prometheus.CounterVec
	FlushItems        prometheus.Histogram
	MalformedMessages prometheus.Counter
	SlowConsumers     prometheus.Counter
	HTTPRequests      *prometheus.CounterVec
}

// New registers every collector on a fresh registry so tests can build as many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vitalwatch_ws_sessions",
			Help: "Number of connected update channel sessions",
		}),
		EnvelopesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_envelopes_sent_total",
			Help: "Batch envelopes enqueued to sessions",
		}, []string{"topic"}),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_flushes_total",
			Help: "Non-empty accumulator flushes",
		}, []string{"topic"}),
		FlushItems: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitalwatch_flush_items",
			Help:    "Updates per flushed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		MalformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalwatch_malformed_messages_total",
			Help: "Inbound frames dropped as malformed",
		}),
		SlowConsumers: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vitalwatch_slow_consumers_total",
			Help: "Sessions evicted because their send queue was full",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalwatch_http_requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.Sessions,
		m.EnvelopesSent,
		m.Flushes,
		m.FlushItems,
		m.MalformedMessages,
		m.SlowConsumers,
		m.HTTPRequests,
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
