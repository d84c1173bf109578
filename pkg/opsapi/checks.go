package opsapi

import (
	"context"
	"runtime"

	"github.com/dd0wney/cluso-coord/pkg/cluster"
	"github.com/dd0wney/cluso-coord/pkg/health"
)

// NewHealthChecker registers the checks of one coordination node. ping may
// be nil when the node runs without a store.
//
// Liveness only looks at the process. Readiness requires a running node and
// a reachable store. The full check adds the roster and pending
// confirmations.
func NewHealthChecker(m *cluster.Manager, ping func(ctx context.Context) error) *health.HealthChecker {
	hc := health.NewHealthChecker()

	memory := health.MemoryCheck(func() (alloc, sys uint64) {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		return stats.Alloc, stats.Sys
	})
	node := health.NodeStateCheck(func() (int64, string, bool) {
		id, joined := m.NodeID()
		return id, m.NodeState().String(), joined
	})

	hc.RegisterLivenessCheck("memory", memory)
	hc.RegisterReadinessCheck("node", node)

	hc.RegisterCheck("memory", memory)
	hc.RegisterCheck("node", node)
	hc.RegisterCheck("cluster", health.RosterCheck(m.IsClusterMode(), m.ActiveNodes))
	hc.RegisterCheck("properties", health.ConfirmationCheck(m.AllConfirmed))

	if ping != nil {
		store := health.StoreCheck(ping)
		hc.RegisterReadinessCheck("store", store)
		hc.RegisterCheck("store", store)
	}

	return hc
}
