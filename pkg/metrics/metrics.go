package metrics

import (
	"strconv"
	"time"
)

// Node states exported on the coord_node_state gauge
var nodeStates = []string{"WAIT_FOR_STARTUP", "STARTUP", "RUNNING", "SHUTDOWN"}

// RecordOpsRequest records an ops API request on its route pattern
func (r *Registry) RecordOpsRequest(method, route string, status int, duration time.Duration) {
	r.OpsRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.OpsRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthRejection counts an ops API request refused by the token check
func (r *Registry) RecordAuthRejection(reason string) {
	r.OpsAuthRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordStoreTx records one shared store transaction
func (r *Registry) RecordStoreTx(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.StoreTxTotal.WithLabelValues(operation, status).Inc()
	r.StoreTxDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRefetch records a property log refetch
func (r *Registry) RecordRefetch(err error, duration time.Duration) {
	result := "success"
	if err != nil {
		result = "error"
	}
	r.RefetchTotal.WithLabelValues(result).Inc()
	r.RefetchDuration.Observe(duration.Seconds())
}

// RecordPropertyWrite records the outcome of a property write
// (success, pending or error)
func (r *Registry) RecordPropertyWrite(result string) {
	r.PropertyWritesTotal.WithLabelValues(result).Inc()
}

// UpdatePropertyMetrics updates the confirmation bookkeeping gauges
func (r *Registry) UpdatePropertyMetrics(pending int, lastSeenSeq int64) {
	r.PendingChanges.Set(float64(pending))
	r.LastSeenSeq.Set(float64(lastSeenSeq))
}

// SetNodeState sets the current lifecycle state of this node. An empty state
// clears all states (node removed).
func (r *Registry) SetNodeState(state string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Reset all states
	for _, s := range nodeStates {
		r.NodeState.WithLabelValues(s).Set(0)
	}

	// Set current state
	if state != "" {
		r.NodeState.WithLabelValues(state).Set(1)
	}
}

// SetNodeJoined publishes the roster identity of this process. It replaces
// any earlier identity, so a rejoin under a new node ID leaves one series.
func (r *Registry) SetNodeJoined(nodeID int64, cluster bool, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mode := "single"
	if cluster {
		mode = "cluster"
	}
	r.NodeInfo.Reset()
	r.NodeInfo.WithLabelValues(strconv.FormatInt(nodeID, 10), mode).Set(1)
	r.NodeJoinedTimestamp.Set(float64(at.Unix()))
}

// SetNodeRemoved clears the roster identity after the node left
func (r *Registry) SetNodeRemoved() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.NodeInfo.Reset()
	r.NodeJoinedTimestamp.Set(0)
}
