package cluster

import (
	"context"
	"slices"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/store"
)

// Refetch reads new property log entries, updates the local cache,
// acknowledges them and re-evaluates confirmation of pending changes. It is
// called periodically by the scheduler and may be called at any time to
// bring values up to date. Without an active cluster node it does nothing.
func (m *Manager) Refetch(ctx context.Context) error {
	m.mu.Lock()
	events, err := m.refetchLocked(ctx)
	m.mu.Unlock()

	m.dispatch(events)
	return err
}

// refetchLocked runs one refetch transaction. Caller holds mu.
func (m *Manager) refetchLocked(ctx context.Context) ([]event, error) {
	if !m.isActive() {
		return nil, nil
	}

	timer := logging.StartTimer(m.logger, "refetch", logging.NodeID(m.nodeID))
	events, err := m.run(ctx, "refetch", func(tx store.Tx, w *txWork) error {
		return m.refetchInTx(ctx, tx, w)
	})
	if m.metrics != nil {
		m.metrics.RecordRefetch(err, timer.Elapsed())
	}
	if err != nil {
		return nil, err
	}
	timer.End()
	return events, nil
}

// refetchInTx is the refetch step inside an open transaction
func (m *Manager) refetchInTx(ctx context.Context, tx store.Tx, w *txWork) error {
	if _, err := m.housekeeping(ctx, tx, w); err != nil {
		return err
	}
	if err := m.readChanges(ctx, tx, w); err != nil {
		return err
	}
	return m.checkConfirmation(ctx, tx, w)
}

// readChanges applies log entries newer than the last seen sequence number
// and writes the new watermark into this node's row
func (m *Manager) readChanges(ctx context.Context, tx store.Tx, w *txWork) error {
	changes, err := tx.ReadChanges(ctx, w.local.lastSeen)
	if err != nil {
		return err
	}

	lastSeen := w.local.lastSeen
	var changed []event
	for _, rec := range changes {
		lastSeen = max(lastSeen, rec.Seq)

		// Every change needs confirmation; only the marker of our own
		// write carries its sequence number
		mark := w.local.pending[rec.Name]
		w.local.pending[rec.Name] = pendingMark{}
		if mark.own && mark.seq == rec.Seq {
			continue
		}

		entry := cacheEntry{raw: rec.Value}
		decl, declared := m.declared[rec.Name]
		if declared {
			value, err := decl.decode(rec.Value)
			if err != nil {
				m.logger.Error("failed to decode property value from peer",
					logging.Property(rec.Name), logging.Seq(rec.Seq), logging.Error(err))
				entry.decodeErr = err
			} else {
				entry.value, entry.typed = value, true
				changed = append(changed, event{
					kind:     eventChanged,
					name:     rec.Name,
					oldValue: m.decodeOld(decl, rec),
					newValue: value,
				})
			}
		}
		w.local.values[rec.Name] = entry
	}

	if lastSeen != w.local.lastSeen {
		w.local.lastSeen = lastSeen
		if _, err := tx.SetConfirmed(ctx, m.nodeID, lastSeen); err != nil {
			return err
		}
	}

	w.events = append(w.events, changed...)
	return nil
}

// decodeOld decodes the last confirmed value of a record, nil if there is none
func (m *Manager) decodeOld(decl declaration, rec store.PropertyRecord) any {
	if rec.OldValue == nil {
		return nil
	}
	old, err := decl.decode(*rec.OldValue)
	if err != nil {
		m.logger.Warn("failed to decode previous property value",
			logging.Property(rec.Name), logging.Error(err))
		return nil
	}
	return old
}

// checkConfirmation fires a confirmation for every pending change that all
// running nodes have acknowledged
func (m *Manager) checkConfirmation(ctx context.Context, tx store.Tx, w *txWork) error {
	names := make([]string, 0, len(w.local.pending))
	for name := range w.local.pending {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		confirmed, err := isConfirmed(ctx, tx, name)
		if err != nil {
			return err
		}
		if !confirmed {
			continue
		}
		delete(w.local.pending, name)
		w.events = append(w.events, event{
			kind:     eventConfirmed,
			name:     name,
			newValue: w.local.values[name].current(),
		})
	}
	return nil
}

// current returns the typed value if there is one, nil if the declared
// type cannot decode the value, the raw value otherwise
func (e cacheEntry) current() any {
	if e.decodeErr != nil {
		return nil
	}
	if e.typed {
		return e.value
	}
	return e.raw
}

// isConfirmed reports whether no running node lags behind the property's
// sequence number. A property without a log entry is confirmed.
func isConfirmed(ctx context.Context, tx store.Tx, name string) (bool, error) {
	rec, err := tx.ReadProperty(ctx, name)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return isSeqConfirmed(ctx, tx, rec.Seq)
}

func isSeqConfirmed(ctx context.Context, tx store.Tx, seq int64) (bool, error) {
	lagging, err := tx.AnyUnconfirmed(ctx, StateRunning.String(), seq)
	if err != nil {
		return false, err
	}
	return !lagging, nil
}

// IsConfirmed refetches and reports whether the last change of the named
// property was acknowledged by every running node. Without an active
// cluster node everything is confirmed.
func (m *Manager) IsConfirmed(ctx context.Context, name string) (bool, error) {
	return m.confirmed(ctx, "is_confirmed", func(ctx context.Context, tx store.Tx) (bool, error) {
		return isConfirmed(ctx, tx, name)
	})
}

// AllConfirmed refetches and reports whether every declared property is
// confirmed
func (m *Manager) AllConfirmed(ctx context.Context) (bool, error) {
	return m.confirmed(ctx, "all_confirmed", func(ctx context.Context, tx store.Tx) (bool, error) {
		for _, name := range m.declaredNames() {
			ok, err := isConfirmed(ctx, tx, name)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	})
}

func (m *Manager) confirmed(ctx context.Context, op string, check func(context.Context, store.Tx) (bool, error)) (bool, error) {
	m.mu.Lock()
	if !m.isActive() {
		m.mu.Unlock()
		return true, nil
	}

	var ok bool
	events, err := m.run(ctx, op, func(tx store.Tx, w *txWork) error {
		if err := m.refetchInTx(ctx, tx, w); err != nil {
			return err
		}
		var err error
		ok, err = check(ctx, tx)
		return err
	})
	m.mu.Unlock()

	m.dispatch(events)
	return ok, err
}

// declaredNames returns the declared property names sorted. Caller holds mu.
func (m *Manager) declaredNames() []string {
	names := make([]string, 0, len(m.declared))
	for name := range m.declared {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// WaitForConfirmation polls every ConfirmationPollInterval until the named
// property is confirmed or ctx is done
func (m *Manager) WaitForConfirmation(ctx context.Context, name string) error {
	start := time.Now()
	defer func() {
		if m.metrics != nil {
			m.metrics.ConfirmationWaitDuration.Observe(time.Since(start).Seconds())
		}
	}()

	ticker := time.NewTicker(m.cfg.ConfirmationPollInterval)
	defer ticker.Stop()

	for {
		ok, err := m.IsConfirmed(ctx, name)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
