package cluster

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
	"github.com/dd0wney/cluso-coord/pkg/store/memstore"
)

// testClock is a store clock the test moves by hand
type testClock struct {
	ms atomic.Int64
}

func newTestClock() *testClock {
	c := &testClock{}
	c.ms.Store(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	return c
}

func (c *testClock) now() int64 {
	return c.ms.Load()
}

func (c *testClock) advance(d time.Duration) {
	c.ms.Add(d.Milliseconds())
}

// testCluster is a set of managers sharing one in-memory store
type testCluster struct {
	t     *testing.T
	store *memstore.Store
	clock *testClock
	cfg   Config
}

func newTestCluster(t *testing.T) *testCluster {
	t.Helper()
	clock := newTestClock()
	cfg := DefaultConfig()
	cfg.IsCluster = true
	cfg.ConfirmationPollInterval = 10 * time.Millisecond
	return &testCluster{
		t:     t,
		store: memstore.New(memstore.WithClock(clock.now)),
		clock: clock,
		cfg:   cfg,
	}
}

// manager creates a manager that is not yet initialized
func (c *testCluster) manager() *Manager {
	c.t.Helper()
	m, err := New(c.store, c.cfg,
		WithLogger(logging.NewNopLogger()),
		WithMetrics(metrics.NewRegistry()),
		WithScheduler(&manualScheduler{}),
	)
	require.NoError(c.t, err)
	return m
}

// node creates a manager, initializes it and moves it to state
func (c *testCluster) node(state NodeState) *Manager {
	c.t.Helper()
	m := c.manager()
	ctx := context.Background()
	require.NoError(c.t, m.InitNode(ctx))
	if state != StateWaitForStartup {
		require.NoError(c.t, m.SetNodeState(ctx, state))
	}
	return m
}

// hasRow reports whether m has a row in the roster
func (c *testCluster) hasRow(m *Manager) bool {
	id, _ := m.NodeID()
	for _, row := range c.store.NodeRows() {
		if row.ID == id {
			return true
		}
	}
	return false
}

type changedEvent struct {
	Name       string
	Old, New   any
	ByThisNode bool
}

type confirmedEvent struct {
	Name  string
	Value any
}

// recorder is a Listener that records everything it receives
type recorder struct {
	mu        sync.Mutex
	changed   []changedEvent
	confirmed []confirmedEvent
}

func record(m *Manager) *recorder {
	r := &recorder{}
	m.AddListener(r)
	return r
}

func (r *recorder) PropertyChanged(name string, oldValue, newValue any, byThisNode bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, changedEvent{name, oldValue, newValue, byThisNode})
}

func (r *recorder) PropertyChangeConfirmed(name string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed = append(r.confirmed, confirmedEvent{name, value})
}

func (r *recorder) Changed() []changedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]changedEvent(nil), r.changed...)
}

func (r *recorder) Confirmed() []confirmedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]confirmedEvent(nil), r.confirmed...)
}

// manualScheduler records Start/Stop and lets the test decide how long a
// stop takes
type manualScheduler struct {
	mu       sync.Mutex
	started  int
	stopped  int
	interval time.Duration
	task     func(context.Context)
	stopOK   bool
}

func (s *manualScheduler) Start(interval time.Duration, task func(context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
	s.interval = interval
	s.task = task
}

func (s *manualScheduler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
	return s.stopOK
}

// run executes the scheduled task once
func (s *manualScheduler) run(ctx context.Context) {
	s.mu.Lock()
	task := s.task
	s.mu.Unlock()
	task(ctx)
}
