package cluster

import (
	"context"
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/store"
)

// PropertyInfo is a snapshot of one cached property for ops tooling
type PropertyInfo struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Declared bool   `json:"declared"`
	Pending  bool   `json:"pending"`
}

func (m *Manager) declare(name string, decl declaration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.declared[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyDeclared, name)
	}

	// Parse a value that was set by another node before
	if entry, ok := m.local.values[name]; ok {
		value, err := decl.decode(entry.raw)
		if err != nil {
			return &DecodeError{Property: name, Value: entry.raw, Err: err}
		}
		m.local.values[name] = cacheEntry{raw: entry.raw, value: value, typed: true}
	}

	m.declared[name] = decl
	return nil
}

// Undeclare removes a declaration. The cached value is kept in its stored
// form and is decoded again if the property is declared later.
func (m *Manager) Undeclare(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.declared[name]; !exists {
		return fmt.Errorf("%w: %q", ErrNotDeclared, name)
	}
	if entry, ok := m.local.values[name]; ok {
		m.local.values[name] = cacheEntry{raw: entry.raw}
	}
	delete(m.declared, name)
	return nil
}

// IsDeclared reports whether name is declared on this node
func (m *Manager) IsDeclared(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.declared[name]
	return exists
}

// Value returns the cached value of a declared property without a typed
// handle
func (m *Manager) Value(name string) (any, bool, error) {
	m.mu.Lock()
	decl, exists := m.declared[name]
	m.mu.Unlock()

	if !exists {
		return nil, false, fmt.Errorf("%w: %q", ErrNotDeclared, name)
	}
	return m.cachedValue(name, decl)
}

// Properties returns every cached property, declared or not, sorted by name
func (m *Manager) Properties() []PropertyInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	props := make([]PropertyInfo, 0, len(m.local.values))
	for name, entry := range m.local.values {
		_, declared := m.declared[name]
		_, pending := m.local.pending[name]
		props = append(props, PropertyInfo{
			Name:     name,
			Value:    entry.raw,
			Declared: declared,
			Pending:  pending,
		})
	}
	slices.SortFunc(props, func(a, b PropertyInfo) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return props
}

// checkDeclared fails unless decl is the current declaration of name.
// Caller holds mu.
func (m *Manager) checkDeclared(name string, decl declaration) error {
	if current, exists := m.declared[name]; !exists || current != decl {
		return fmt.Errorf("%w: %q", ErrNotDeclared, name)
	}
	return nil
}

func (m *Manager) cachedValue(name string, decl declaration) (any, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkDeclared(name, decl); err != nil {
		return nil, false, err
	}
	entry, ok := m.local.values[name]
	if !ok {
		return nil, false, nil
	}
	if entry.decodeErr != nil {
		return nil, false, &DecodeError{Property: name, Value: entry.raw, Err: entry.decodeErr}
	}
	return entry.value, true, nil
}

// setValue writes an already checked value. In cluster mode the write and the
// following refetch are two transactions; a refetch failure is reported even
// though the write was committed.
func (m *Manager) setValue(ctx context.Context, name string, decl declaration, raw string, value any, overwrite bool) error {
	m.mu.Lock()
	events, err := m.setValueLocked(ctx, name, decl, raw, value, overwrite)
	m.mu.Unlock()

	m.dispatch(events)
	if m.metrics != nil {
		m.metrics.RecordPropertyWrite(writeResult(err))
	}
	return err
}

func writeResult(err error) string {
	switch err.(type) {
	case nil:
		return "success"
	case *PendingChangeError:
		return "pending"
	default:
		return "error"
	}
}

func (m *Manager) setValueLocked(ctx context.Context, name string, decl declaration, raw string, value any, overwrite bool) ([]event, error) {
	if !m.joined {
		return nil, ErrNotInitialized
	}
	if err := m.checkDeclared(name, decl); err != nil {
		return nil, err
	}

	if !m.isActive() {
		// Single node: the write is confirmed as soon as it is made
		var old any
		if prev, ok := m.local.values[name]; ok {
			old = prev.current()
		}
		m.local.values[name] = cacheEntry{raw: raw, value: value, typed: true}
		return []event{
			{kind: eventChanged, name: name, oldValue: old, newValue: value, byThisNode: true},
			{kind: eventConfirmed, name: name, newValue: value},
		}, nil
	}

	events, err := m.run(ctx, "set_value", func(tx store.Tx, w *txWork) error {
		return m.writeProperty(ctx, tx, w, name, decl, raw, value, overwrite)
	})
	if err != nil {
		if _, conflict := err.(*PendingChangeError); conflict {
			m.logger.Debug("property write rejected, change pending", logging.Property(name))
		}
		return nil, err
	}

	more, err := m.refetchLocked(ctx)
	return append(events, more...), err
}

// writeProperty is the compare-and-write step inside an open transaction
func (m *Manager) writeProperty(ctx context.Context, tx store.Tx, w *txWork, name string, decl declaration, raw string, value any, overwrite bool) error {
	seq, err := tx.NextSequence(ctx, store.SeqMessage)
	if err != nil {
		return err
	}
	rec, err := tx.ReadProperty(ctx, name)
	if err != nil {
		return err
	}

	var oldRaw *string
	if rec == nil {
		err = tx.InsertProperty(ctx, store.PropertyRecord{Name: name, Value: raw, Seq: seq})
	} else {
		var confirmed bool
		if confirmed, err = isSeqConfirmed(ctx, tx, rec.Seq); err != nil {
			return err
		}
		switch {
		case confirmed:
			oldRaw = store.StringPtr(rec.Value)
		case overwrite:
			// Keep reporting the last confirmed value as the old one
			oldRaw = rec.OldValue
		default:
			return m.pendingChange(decl, *rec)
		}
		_, err = tx.UpdateProperty(ctx, store.PropertyRecord{Name: name, Value: raw, OldValue: oldRaw, Seq: seq})
	}
	if err != nil {
		return err
	}

	w.local.pending[name] = pendingMark{seq: seq, own: true}
	w.local.values[name] = cacheEntry{raw: raw, value: value, typed: true}

	var old any
	if oldRaw != nil {
		old = m.decodeOld(decl, store.PropertyRecord{Name: name, OldValue: oldRaw})
	}
	w.events = append(w.events, event{kind: eventChanged, name: name, oldValue: old, newValue: value, byThisNode: true})
	return nil
}

// pendingChange builds the conflict error for an unconfirmed record
func (m *Manager) pendingChange(decl declaration, rec store.PropertyRecord) error {
	newValue, err := decl.decode(rec.Value)
	if err != nil {
		return &DecodeError{Property: rec.Name, Value: rec.Value, Err: err}
	}
	pce := &PendingChangeError{Property: rec.Name, New: newValue}
	if rec.OldValue != nil {
		if pce.Old, err = decl.decode(*rec.OldValue); err != nil {
			return &DecodeError{Property: rec.Name, Value: *rec.OldValue, Err: err}
		}
		pce.HasOld = true
	}
	return pce
}

// confirmedRead is the outcome of a confirmed read before decoding
type confirmedRead struct {
	cached    bool // answered from the cache, no store access
	rec       *store.PropertyRecord
	confirmed bool
}

func (m *Manager) confirmedValue(ctx context.Context, name string, decl declaration) (confirmedRead, error) {
	var read confirmedRead

	m.mu.Lock()
	if err := m.checkDeclared(name, decl); err != nil {
		m.mu.Unlock()
		return read, err
	}
	if !m.isActive() {
		m.mu.Unlock()
		read.cached = true
		return read, nil
	}

	events, err := m.run(ctx, "confirmed_value", func(tx store.Tx, w *txWork) error {
		if err := m.refetchInTx(ctx, tx, w); err != nil {
			return err
		}
		rec, err := tx.ReadProperty(ctx, name)
		if err != nil || rec == nil {
			return err
		}
		read.rec = rec
		read.confirmed, err = isSeqConfirmed(ctx, tx, rec.Seq)
		return err
	})
	m.mu.Unlock()

	m.dispatch(events)
	return read, err
}
