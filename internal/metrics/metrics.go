package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbank_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbank_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	QuotaConsumeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbank_quota_consume_total",
			Help: "Consume attempts by category and result code.",
		},
		[]string{"category", "code"},
	)

	QuotaStoreErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbank_quota_store_errors_total",
			Help: "Consume attempts that failed in the backing store.",
		},
		[]string{"category"},
	)

	QuotaConsumeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "qbank_quota_consume_duration_seconds",
			Help:    "Latency of the atomic consume operation.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"category"},
	)

	AuditEventsPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qbank_audit_events_persisted_total",
			Help: "Audit events consumed from NATS by outcome.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		QuotaConsumeTotal,
		QuotaStoreErrorsTotal,
		QuotaConsumeDuration,
		AuditEventsPersistedTotal,
	)
}
