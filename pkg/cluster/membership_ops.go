package cluster

import (
	"context"
	"math"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/store"
)

// singleNodeID is the node id used when cluster mode is off
const singleNodeID = math.MaxInt64

// InitNode registers this process in the roster in state WaitForStartup and
// runs a first refetch. It may be called once per node; after RemoveNode the
// manager can join again.
func (m *Manager) InitNode(ctx context.Context) error {
	m.mu.Lock()
	events, err := m.initNodeLocked(ctx)
	m.mu.Unlock()

	m.dispatch(events)
	return err
}

func (m *Manager) initNodeLocked(ctx context.Context) ([]event, error) {
	if m.joined {
		return nil, ErrAlreadyInitialized
	}

	if !m.cfg.IsCluster {
		m.join(singleNodeID)
		return nil, nil
	}

	var id int64
	events, err := m.run(ctx, "init_node", func(tx store.Tx, w *txWork) error {
		var err error
		if id, err = tx.NextSequence(ctx, store.SeqNode); err != nil {
			return err
		}
		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		if err := m.reap(ctx, tx, w, now); err != nil {
			return err
		}
		return tx.InsertNode(ctx, store.NodeRow{
			ID:       id,
			State:    StateWaitForStartup.String(),
			LifeSign: now,
		})
	})
	if err != nil {
		return nil, err
	}
	m.join(id)

	more, err := m.refetchLocked(ctx)
	return append(events, more...), err
}

// join makes id the local node. Caller holds mu.
func (m *Manager) join(id int64) {
	m.nodeID = id
	m.joined = true
	m.state = StateWaitForStartup
	m.logger.Info("cluster node initialized", logging.NodeID(id), logging.Bool("cluster", m.cfg.IsCluster))
	if m.metrics != nil {
		m.metrics.SetNodeState(m.state.String())
		m.metrics.SetNodeJoined(id, m.cfg.IsCluster, time.Now())
	}
}

// SetNodeState heartbeats, stores the new lifecycle state and refetches, so
// the transition and the changes observed with it appear atomic to the
// caller. The engine does not enforce an order of states.
func (m *Manager) SetNodeState(ctx context.Context, state NodeState) error {
	m.mu.Lock()
	events, err := m.setNodeStateLocked(ctx, state)
	m.mu.Unlock()

	m.dispatch(events)
	return err
}

func (m *Manager) setNodeStateLocked(ctx context.Context, state NodeState) ([]event, error) {
	var events []event
	if m.isActive() {
		var err error
		events, err = m.run(ctx, "set_node_state", func(tx store.Tx, w *txWork) error {
			if _, err := m.housekeeping(ctx, tx, w); err != nil {
				return err
			}
			_, err := tx.SetNodeState(ctx, m.nodeID, state.String())
			return err
		})
		if err != nil {
			m.logger.Error("failed to change node state", logging.State(state.String()), logging.Error(err))
			return nil, err
		}
	}

	m.logger.Info("node state changed",
		logging.NodeID(m.nodeID), logging.String("from", m.state.String()), logging.State(state.String()))
	m.state = state
	if m.metrics != nil {
		m.metrics.SetNodeState(state.String())
	}

	more, err := m.refetchLocked(ctx)
	return append(events, more...), err
}

// UpdateLifesign writes the current store time into this node's row and
// revives the row if a peer reaped it. Nodes that do not run the periodic
// refetch yet (e.g. during startup) call it to stay alive.
func (m *Manager) UpdateLifesign(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isActive() {
		return nil
	}
	_, err := m.run(ctx, "update_lifesign", func(tx store.Tx, w *txWork) error {
		now, err := tx.Now(ctx)
		if err != nil {
			return err
		}
		return m.updateLifesign(ctx, tx, w, now)
	})
	return err
}

// RemoveNode deletes this node's row. If the roster is empty afterwards the
// property log is truncated unless KeepPropertyLog is set. The local node id
// and state are cleared even if the store fails. In cluster mode the property
// cache and the acknowledged sequence number are dropped as well, so a later
// InitNode reads the log from the start like any new node.
func (m *Manager) RemoveNode(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.isActive() {
		_, err = m.run(ctx, "remove_node", func(tx store.Tx, w *txWork) error {
			now, err := m.housekeeping(ctx, tx, w)
			if err != nil {
				return err
			}
			if _, err := tx.DeleteNode(ctx, m.nodeID); err != nil {
				return err
			}
			if err := m.reap(ctx, tx, w, now); err != nil {
				return err
			}
			return m.cleanUpEmptyCluster(ctx, tx, w)
		})
		if err != nil {
			m.logger.Error("failed to remove node from cluster", logging.NodeID(m.nodeID), logging.Error(err))
		}
	}

	if m.joined {
		m.logger.Info("cluster node removed", logging.NodeID(m.nodeID))
	}
	m.nodeID = 0
	m.joined = false
	m.state = StateNone
	if m.cfg.IsCluster {
		m.local = newLocalState()
	}
	if m.metrics != nil {
		m.metrics.SetNodeState("")
		m.metrics.SetNodeRemoved()
	}
	return err
}

// cleanUpEmptyCluster truncates the property log when no node is left
func (m *Manager) cleanUpEmptyCluster(ctx context.Context, tx store.Tx, w *txWork) error {
	if m.cfg.KeepPropertyLog {
		return nil
	}
	found, err := tx.AnyNode(ctx)
	if err != nil || found {
		return err
	}
	w.truncated, err = tx.TruncateProperties(ctx)
	return err
}
