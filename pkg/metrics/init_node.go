package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Process and runtime metrics come from the client library collectors. The
// process collector shares the coord namespace; Go runtime series keep
// their go_ prefix.
func (r *Registry) initNodeMetrics() {
	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: "coord"}),
	)

	r.NodeInfo = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "coord_node_info",
			Help: "Always 1 while this process is a member of the roster, labeled with its node ID and mode",
		},
		[]string{"node_id", "mode"},
	)

	r.NodeJoinedTimestamp = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "coord_node_joined_timestamp_seconds",
			Help: "Unix time this process last joined the roster, 0 when it is not a member",
		},
	)
}
