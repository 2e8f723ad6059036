package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the transformer's Prometheus metrics.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	TransformErrors *prometheus.CounterVec
	BatchSize       prometheus.Histogram
	BatchDuration   *prometheus.HistogramVec
	DLQTotal        *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

// NewMetrics creates and registers all metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chameleon_events_total",
			Help: "Events transformed, by category and outcome.",
		}, []string{"category", "status"}),

		TransformErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chameleon_transform_errors_total",
			Help: "Per-event transformation failures by error type.",
		}, []string{"error_type"}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chameleon_batch_size",
			Help:    "Number of events per transform batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		BatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chameleon_batch_duration_seconds",
			Help:    "Time spent transforming a batch.",
			Buckets: prometheus.DefBuckets,
		}, []string{"mode"}),

		DLQTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "chameleon_dlq_total",
			Help: "Failed events published to the dead-letter topic.",
		}, []string{"status"}),

		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "chameleon_rate_limited_requests_total",
			Help: "Transform requests rejected by the rate limiter.",
		}),
	}
}
