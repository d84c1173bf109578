package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

// Scheduler runs the periodic refetch
type Scheduler interface {
	// Start runs task every interval until Stop
	Start(interval time.Duration, task func(ctx context.Context))
	// Stop prevents further runs and waits up to timeout for a running task.
	// It reports false if the task was still running when the timeout
	// expired; that task's context is then canceled.
	Stop(timeout time.Duration) bool
}

// TickerScheduler runs the task on one goroutine driven by a time.Ticker.
// Runs never overlap; ticks that arrive while the task runs are dropped.
type TickerScheduler struct {
	logger logging.Logger

	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
	cancel context.CancelFunc
}

// NewTickerScheduler creates a stopped scheduler
func NewTickerScheduler(logger logging.Logger) *TickerScheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &TickerScheduler{logger: logger}
}

// Start begins running task. Starting a running scheduler does nothing.
func (s *TickerScheduler) Start(interval time.Duration, task func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.cancel = cancel

	go s.loop(ctx, interval, task, s.stop, s.done)
}

func (s *TickerScheduler) loop(ctx context.Context, interval time.Duration, task func(ctx context.Context), stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			// Stop wins over a tick that is ready at the same time
			select {
			case <-stop:
				return
			default:
			}
			task(ctx)
		}
	}
}

// Stop stops the scheduler. Stopping a stopped scheduler reports true.
func (s *TickerScheduler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	stop, done, cancel := s.stop, s.done, s.cancel
	s.stop, s.done, s.cancel = nil, nil, nil
	s.mu.Unlock()

	if stop == nil {
		return true
	}
	close(stop)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		return true
	case <-timer.C:
		s.logger.Warn("periodic task still running after stop timeout", logging.Duration("timeout", timeout))
		cancel()
		return false
	}
}

// Start begins the periodic refetch. Without cluster mode it does nothing.
func (m *Manager) Start() error {
	if !m.cfg.IsCluster {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return ErrAlreadyStarted
	}
	m.started = true
	m.sched.Start(m.cfg.RefetchInterval, m.refetchTask)
	m.logger.Info("periodic refetch started", logging.Duration("interval", m.cfg.RefetchInterval))
	return nil
}

// refetchTask is the scheduled refetch; failures are logged and retried on
// the next run
func (m *Manager) refetchTask(ctx context.Context) {
	if err := m.Refetch(ctx); err != nil {
		m.logger.Warn("periodic refetch failed", logging.Error(err))
	}
}

// Shutdown stops the periodic refetch, waiting at most
// RefetchWaitOnStopTimeout for a running refetch, and removes the node from
// the roster. A refetch that outlives the timeout may still fail against the
// removed row; that is logged and harmless.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	m.started = false
	m.mu.Unlock()

	if started && !m.sched.Stop(m.cfg.RefetchWaitOnStopTimeout) {
		m.logger.Warn("shutting down with refetch still in flight",
			logging.Duration("timeout", m.cfg.RefetchWaitOnStopTimeout))
	}
	return m.RemoveNode(ctx)
}
