// Prometheus instrumentation for the scheduling core.

package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates counters and distributions describing proxy behavior:
// accepted and failed requests, batch shapes, throttle pressure, and
// client-visible latency.
type Metrics struct {
	RequestsTotal   prometheus.Counter
	RequestsFailed  prometheus.Counter
	BatchesTotal    prometheus.Counter
	ThrottlesTotal  prometheus.Counter
	BatchSize       prometheus.Histogram
	BatchMaxLen     prometheus.Histogram
	QueueDepth      prometheus.Gauge
	RequestDuration prometheus.Histogram
	BackendDuration prometheus.Histogram
}

// NewMetrics registers the proxy metric set on reg. Each Proxy owns its own
// registry so tests can run several instances side by side.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "batchgate",
			Name:      "requests_total",
			Help:      "Sequences accepted for classification.",
		}),
		RequestsFailed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "batchgate",
			Name:      "requests_failed_total",
			Help:      "Requests resolved with a terminal error.",
		}),
		BatchesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "batchgate",
			Name:      "batches_total",
			Help:      "Batches dispatched to the backend, including retries.",
		}),
		ThrottlesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "batchgate",
			Name:      "throttles_total",
			Help:      "Backend 429 responses observed.",
		}),
		BatchSize: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "batchgate",
			Name:      "batch_size",
			Help:      "Sequences per dispatched batch.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		BatchMaxLen: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "batchgate",
			Name:      "batch_max_len",
			Help:      "Longest sequence per dispatched batch, the quadratic cost key.",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 10),
		}),
		QueueDepth: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "batchgate",
			Name:      "queue_depth",
			Help:      "Requests waiting for dispatch.",
		}),
		RequestDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "batchgate",
			Name:      "request_duration_seconds",
			Help:      "Client-visible latency from registration to fulfillment.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		BackendDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "batchgate",
			Name:      "backend_duration_seconds",
			Help:      "Latency of individual backend batch calls.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}
