package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Ops API Metrics
	OpsRequestsTotal       *prometheus.CounterVec
	OpsRequestDuration     *prometheus.HistogramVec
	OpsRequestsInFlight    prometheus.Gauge
	OpsAuthRejectionsTotal *prometheus.CounterVec

	// Store Metrics
	StoreTxTotal    *prometheus.CounterVec
	StoreTxDuration *prometheus.HistogramVec

	// Cluster Metrics (node roster)
	ClusterNodes     prometheus.Gauge
	NodeState        *prometheus.GaugeVec
	NodesReapedTotal prometheus.Counter
	NodeRevivesTotal prometheus.Counter

	// Property Metrics
	RefetchTotal             *prometheus.CounterVec
	RefetchDuration          prometheus.Histogram
	PropertyWritesTotal      *prometheus.CounterVec
	PendingChanges           prometheus.Gauge
	LastSeenSeq              prometheus.Gauge
	ListenerPanicsTotal      prometheus.Counter
	ConfirmationWaitDuration prometheus.Histogram

	// Local Node Metrics
	NodeInfo            *prometheus.GaugeVec
	NodeJoinedTimestamp prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	// Initialize all metrics
	r.initOpsMetrics()
	r.initStoreMetrics()
	r.initClusterMetrics()
	r.initPropertyMetrics()
	r.initNodeMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
