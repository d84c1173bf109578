package health

import (
	"context"
	"fmt"
)

// StoreCheck creates a health check for shared store connectivity
func StoreCheck(pingFunc func(ctx context.Context) error) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name: "store",
		}

		if err := pingFunc(ctx); err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		} else {
			check.Status = StatusHealthy
			check.Message = "Connected"
		}

		return check
	}
}

// NodeStateCheck reports the lifecycle state of the local node. Only a
// running node is healthy; a node that is not in the roster is unhealthy.
func NodeStateCheck(getState func() (id int64, state string, joined bool)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "node",
			Details: make(map[string]any),
		}

		id, state, joined := getState()
		check.Details["joined"] = joined

		switch {
		case !joined:
			check.Status = StatusUnhealthy
			check.Message = "Node not initialized"
		case state == "RUNNING":
			check.Details["node_id"] = id
			check.Details["state"] = state
			check.Status = StatusHealthy
			check.Message = "Node running"
		default:
			check.Details["node_id"] = id
			check.Details["state"] = state
			check.Status = StatusDegraded
			check.Message = fmt.Sprintf("Node in state %s", state)
		}

		return check
	}
}

// RosterCheck creates a health check for the cluster roster. Cluster mode
// without any active node is degraded; a failing roster read is unhealthy.
func RosterCheck(clusterMode bool, activeNodes func(ctx context.Context) ([]int64, error)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "cluster",
			Details: make(map[string]any),
		}

		if !clusterMode {
			check.Status = StatusHealthy
			check.Message = "Cluster mode disabled"
			return check
		}

		ids, err := activeNodes(ctx)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Details["active_nodes"] = len(ids)
		if len(ids) == 0 {
			check.Status = StatusDegraded
			check.Message = "No active nodes"
		} else {
			check.Status = StatusHealthy
			check.Message = "Cluster healthy"
		}

		return check
	}
}

// ConfirmationCheck reports whether every declared property change has been
// acknowledged by all running nodes. Pending changes are normal for a short
// time, so they only degrade the node.
func ConfirmationCheck(allConfirmed func(ctx context.Context) (bool, error)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name: "properties",
		}

		confirmed, err := allConfirmed(ctx)
		switch {
		case err != nil:
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		case !confirmed:
			check.Status = StatusDegraded
			check.Message = "Property changes pending confirmation"
		default:
			check.Status = StatusHealthy
			check.Message = "All property changes confirmed"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := float64(alloc) / float64(sys) * 100

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}
