package cluster

import (
	"context"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/store"
)

// IsClusterMode reports whether the manager was configured for cluster mode
func (m *Manager) IsClusterMode() bool {
	return m.cfg.IsCluster
}

// IsClusterModeActive reports whether changes are propagated through the
// store, i.e. cluster mode is on and the node is initialized
func (m *Manager) IsClusterModeActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isActive()
}

// NodeID returns this node's roster id; false before InitNode
func (m *Manager) NodeID() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nodeID, m.joined
}

// NodeState returns this node's lifecycle state, StateNone before InitNode
func (m *Manager) NodeState() NodeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// NodeStateOf returns the state of any node in the roster. The own node is
// answered locally.
func (m *Manager) NodeStateOf(ctx context.Context, id int64) (NodeState, bool, error) {
	m.mu.Lock()
	if m.joined && id == m.nodeID {
		state := m.state
		m.mu.Unlock()
		return state, true, nil
	}
	m.mu.Unlock()

	if !m.cfg.IsCluster {
		return StateNone, false, nil
	}

	var (
		name  string
		found bool
	)
	err := m.read(ctx, "node_state", func(tx store.Tx) error {
		var err error
		name, found, err = tx.NodeState(ctx, id)
		return err
	})
	if err != nil || !found {
		return StateNone, false, err
	}
	state, err := ParseNodeState(name)
	if err != nil {
		return StateNone, false, err
	}
	return state, true, nil
}

// ActiveNodes returns the ids of running or starting nodes after roster
// housekeeping. Without cluster mode the list is empty.
func (m *Manager) ActiveNodes(ctx context.Context) ([]int64, error) {
	if !m.cfg.IsCluster {
		return nil, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []int64
	_, err := m.run(ctx, "active_nodes", func(tx store.Tx, w *txWork) error {
		if _, err := m.housekeeping(ctx, tx, w); err != nil {
			return err
		}
		var err error
		ids, err = tx.NodesInStates(ctx, StateRunning.String(), StateStartup.String())
		return err
	})
	if err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.ClusterNodes.Set(float64(len(ids)))
	}
	return ids, nil
}

// Nodes returns a snapshot of the whole roster ordered by id
func (m *Manager) Nodes(ctx context.Context) ([]NodeInfo, error) {
	if !m.cfg.IsCluster {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !m.joined {
			return nil, nil
		}
		return []NodeInfo{{ID: m.nodeID, State: m.state, LifeSign: time.Now()}}, nil
	}

	var rows []store.NodeRow
	err := m.read(ctx, "nodes", func(tx store.Tx) error {
		var err error
		rows, err = tx.Nodes(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	nodes := make([]NodeInfo, 0, len(rows))
	for _, row := range rows {
		nodes = append(nodes, nodeInfoFromRow(row))
	}
	return nodes, nil
}

// AllNodesRunning refetches and reports whether no node in the roster is in
// a state other than Running. Without cluster mode it reports whether this
// node is running.
func (m *Manager) AllNodesRunning(ctx context.Context) (bool, error) {
	m.mu.Lock()
	if !m.cfg.IsCluster {
		defer m.mu.Unlock()
		return m.state == StateRunning, nil
	}

	var others bool
	events, err := m.run(ctx, "all_nodes_running", func(tx store.Tx, w *txWork) error {
		if m.joined {
			if err := m.refetchInTx(ctx, tx, w); err != nil {
				return err
			}
		} else if _, err := m.housekeeping(ctx, tx, w); err != nil {
			return err
		}
		var err error
		others, err = tx.AnyNodeNotIn(ctx, StateRunning.String())
		return err
	})
	m.mu.Unlock()

	m.dispatch(events)
	if err != nil {
		return false, err
	}
	return !others, nil
}

// Timestamp returns the store server time so all nodes share one clock. It
// falls back to the local clock if the store is unreachable.
func (m *Manager) Timestamp(ctx context.Context) time.Time {
	if !m.cfg.IsCluster {
		return time.Now()
	}

	var ms int64
	err := m.read(ctx, "timestamp", func(tx store.Tx) error {
		var err error
		ms, err = tx.Now(ctx)
		return err
	})
	if err != nil {
		m.logger.Warn("failed to get current timestamp from store, using local clock", logging.Error(err))
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// read runs a read-only store transaction without taking the request lock
func (m *Manager) read(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	start := time.Now()
	err := m.store.InTx(ctx, fn)
	if m.metrics != nil {
		m.metrics.RecordStoreTx(op, err, time.Since(start))
	}
	if err != nil {
		return &StoreError{Op: op, Err: err}
	}
	return nil
}
