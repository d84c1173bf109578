package cluster

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
	"github.com/dd0wney/cluso-coord/pkg/store"
)

// Manager is the coordination handle of one node. All methods are safe for
// concurrent use; operations touching node-local state are serialized.
//
// Concurrent Safety:
//  1. mu serializes every operation on node-local state, including the
//     store transaction it runs
//  2. Listener callbacks run after the transaction committed and after mu
//     was released, so a listener may call back into the Manager
//  3. The listener list is copy-on-write
type Manager struct {
	store    store.Store
	cfg      Config
	logger   logging.Logger
	metrics  *metrics.Registry
	sched    Scheduler
	instance uuid.UUID

	mu       sync.Mutex
	nodeID   int64
	joined   bool
	state    NodeState
	started  bool
	declared map[string]declaration
	local    localState

	lmu       sync.Mutex // serializes listener list writers
	listeners atomic.Pointer[[]Listener]
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics registry; nil disables metrics
func WithMetrics(registry *metrics.Registry) Option {
	return func(m *Manager) {
		m.metrics = registry
	}
}

// WithScheduler replaces the periodic refetch driver
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.sched = s
	}
}

// New creates a manager for one node. The store may be nil when cluster mode
// is off.
func New(st store.Store, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.IsCluster && st == nil {
		return nil, ErrNilStore
	}

	m := &Manager{
		store:    st,
		cfg:      cfg,
		metrics:  metrics.DefaultRegistry(),
		instance: uuid.New(),
		declared: make(map[string]declaration),
		local:    newLocalState(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.DefaultLogger()
	}
	m.logger = m.logger.With(logging.Component("cluster"), logging.Instance(m.instance))
	if m.sched == nil {
		m.sched = NewTickerScheduler(m.logger)
	}
	m.listeners.Store(&[]Listener{})

	return m, nil
}

// Config returns the configuration the manager was created with
func (m *Manager) Config() Config {
	return m.cfg
}

// Instance returns the id of this manager instance. Unlike the node id it is
// unique per process run.
func (m *Manager) Instance() uuid.UUID {
	return m.instance
}

// cacheEntry is one value of the local property cache. The raw form is always
// kept; the typed form only while the property is declared.
type cacheEntry struct {
	raw       string
	value     any
	typed     bool
	decodeErr error
}

// pendingMark tracks a change that is not yet confirmed. own is set with the
// sequence number of a write this node issued and has not yet read back.
type pendingMark struct {
	seq int64
	own bool
}

// localState is the node-local state a store transaction may change. It is
// staged on a copy and published only when the transaction commits.
type localState struct {
	lastSeen int64
	values   map[string]cacheEntry
	pending  map[string]pendingMark
}

func newLocalState() localState {
	return localState{
		lastSeen: -1,
		values:   make(map[string]cacheEntry),
		pending:  make(map[string]pendingMark),
	}
}

func (l localState) clone() localState {
	return localState{
		lastSeen: l.lastSeen,
		values:   maps.Clone(l.values),
		pending:  maps.Clone(l.pending),
	}
}

// txWork collects everything a transaction produces besides store writes
type txWork struct {
	local     localState
	events    []event
	reaped    int64
	revived   bool
	truncated int64
}

// isActive reports whether operations go through the store. Caller holds mu.
func (m *Manager) isActive() bool {
	return m.cfg.IsCluster && m.joined
}

// inTx runs fn in one store transaction that first takes the request
// sequence lock. Store failures are wrapped in a StoreError; a
// PendingChangeError or DecodeError returned by fn aborts the transaction
// and is passed through unchanged.
func (m *Manager) inTx(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	start := time.Now()
	err := m.store.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.NextSequence(ctx, store.SeqRequest); err != nil {
			return err
		}
		return fn(tx)
	})

	var (
		pending *PendingChangeError
		decode  *DecodeError
	)
	var usage error
	switch {
	case errors.As(err, &pending):
		usage, err = pending, nil
	case errors.As(err, &decode):
		usage, err = decode, nil
	}
	if m.metrics != nil {
		m.metrics.RecordStoreTx(op, err, time.Since(start))
	}

	switch {
	case usage != nil:
		return usage
	case err != nil:
		m.logger.Error("store transaction failed", logging.Operation(op), logging.Error(err))
		return &StoreError{Op: op, Err: err}
	}
	return nil
}

// run executes fn on a staged copy of the local state and publishes the copy
// and side effects only after commit. Caller holds mu. The returned events
// must be dispatched after mu is released.
func (m *Manager) run(ctx context.Context, op string, fn func(tx store.Tx, w *txWork) error) ([]event, error) {
	w := &txWork{local: m.local.clone()}
	if err := m.inTx(ctx, op, func(tx store.Tx) error { return fn(tx, w) }); err != nil {
		return nil, err
	}

	m.local = w.local
	if w.revived {
		m.logger.Warn("node row was reaped by a peer, revived it",
			logging.NodeID(m.nodeID), logging.State(m.state.String()))
		if m.metrics != nil {
			m.metrics.NodeRevivesTotal.Inc()
		}
	}
	if w.reaped > 0 {
		m.logger.Warn("reaped dead nodes", logging.Count(int(w.reaped)))
		if m.metrics != nil {
			m.metrics.NodesReapedTotal.Add(float64(w.reaped))
		}
	}
	if w.truncated > 0 {
		m.logger.Warn("cluster empty, truncated property log", logging.Count(int(w.truncated)))
	}
	if m.metrics != nil {
		m.metrics.UpdatePropertyMetrics(len(m.local.pending), m.local.lastSeen)
	}
	return w.events, nil
}

// housekeeping refreshes this node's life sign and reaps dead peers. It
// returns the store time it used.
func (m *Manager) housekeeping(ctx context.Context, tx store.Tx, w *txWork) (int64, error) {
	now, err := tx.Now(ctx)
	if err != nil {
		return 0, err
	}
	if m.joined {
		if err := m.updateLifesign(ctx, tx, w, now); err != nil {
			return 0, err
		}
	}
	if err := m.reap(ctx, tx, w, now); err != nil {
		return 0, err
	}
	return now, nil
}

// updateLifesign writes now into this node's row. If a peer reaped the row
// while this node was alive, the row is re-inserted with the current state
// and confirmation progress.
func (m *Manager) updateLifesign(ctx context.Context, tx store.Tx, w *txWork, now int64) error {
	affected, err := tx.UpdateLifeSign(ctx, m.nodeID, now)
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	row := store.NodeRow{ID: m.nodeID, State: m.state.String(), LifeSign: now}
	if w.local.lastSeen >= 0 {
		row.ConfirmedSeq = store.Int64Ptr(w.local.lastSeen)
	}
	if err := tx.InsertNode(ctx, row); err != nil {
		return err
	}
	w.revived = true
	return nil
}

// reap deletes running nodes silent for longer than TimeoutRunningNode and
// nodes in any state silent for longer than TimeoutOtherNode
func (m *Manager) reap(ctx context.Context, tx store.Tx, w *txWork, now int64) error {
	dead, err := tx.DeleteStaleNodes(ctx, StateRunning.String(), now-m.cfg.TimeoutRunningNode.Milliseconds())
	if err != nil {
		return err
	}
	longDead, err := tx.DeleteStaleNodes(ctx, "", now-m.cfg.TimeoutOtherNode.Milliseconds())
	if err != nil {
		return err
	}
	w.reaped += dead + longDead
	return nil
}
