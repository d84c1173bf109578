package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ops API requests are labeled with the chi route pattern, never the raw path
func (r *Registry) initOpsMetrics() {
	r.OpsRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_ops_requests_total",
			Help: "Total number of ops API requests by route",
		},
		[]string{"method", "route", "status"},
	)

	r.OpsRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coord_ops_request_duration_seconds",
			Help:    "Ops API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	r.OpsRequestsInFlight = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_ops_requests_in_flight",
			Help: "Current number of ops API requests being processed",
		},
	)

	r.OpsAuthRejectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_ops_auth_rejections_total",
			Help: "Ops API requests rejected by token checks (missing_token, invalid_token, forbidden)",
		},
		[]string{"reason"},
	)
}
