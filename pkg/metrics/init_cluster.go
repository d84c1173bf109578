package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initClusterMetrics() {
	r.ClusterNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_cluster_nodes",
			Help: "Number of active (running or starting) nodes in the roster",
		},
	)

	r.NodeState = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coord_node_state",
			Help: "Lifecycle state of this node (1 for current state, 0 otherwise)",
		},
		[]string{"state"},
	)

	r.NodesReapedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "coord_nodes_reaped_total",
			Help: "Total number of peer roster rows removed after a heartbeat timeout",
		},
	)

	r.NodeRevivesTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "coord_node_revives_total",
			Help: "Total number of times this node re-inserted its own reaped roster row",
		},
	)
}

func (r *Registry) initPropertyMetrics() {
	r.RefetchTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_refetch_total",
			Help: "Total number of property log refetches",
		},
		[]string{"result"}, // success, error
	)

	r.RefetchDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coord_refetch_duration_seconds",
			Help:    "Duration of property log refetches in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	r.PropertyWritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "coord_property_writes_total",
			Help: "Total number of cluster property writes",
		},
		[]string{"result"}, // success, pending, error
	)

	r.PendingChanges = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_pending_changes",
			Help: "Property changes observed by this node but not yet confirmed by all running nodes",
		},
	)

	r.LastSeenSeq = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_last_seen_seq",
			Help: "Highest property log sequence number this node has acknowledged",
		},
	)

	r.ListenerPanicsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "coord_listener_panics_total",
			Help: "Total number of panics recovered from property listeners",
		},
	)

	r.ConfirmationWaitDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coord_confirmation_wait_seconds",
			Help:    "Time spent waiting for a property change to be confirmed",
			Buckets: []float64{0.1, 1, 5, 15, 30, 60, 120},
		},
	)
}
