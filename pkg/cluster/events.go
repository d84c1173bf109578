package cluster

import (
	"fmt"
	"slices"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

// Listener receives property events. Callbacks run on the goroutine of the
// operation that detected the event, after its store transaction committed.
// They may call back into the Manager.
type Listener interface {
	// PropertyChanged reports a new value. oldValue is the last confirmed
	// value or nil; byThisNode is set for writes made through this Manager.
	PropertyChanged(name string, oldValue, newValue any, byThisNode bool)
	// PropertyChangeConfirmed reports that every running node acknowledged
	// the latest change
	PropertyChangeConfirmed(name string, value any)
}

// ListenerFuncs adapts functions to a Listener. Nil functions are skipped.
type ListenerFuncs struct {
	Changed   func(name string, oldValue, newValue any, byThisNode bool)
	Confirmed func(name string, value any)
}

func (l *ListenerFuncs) PropertyChanged(name string, oldValue, newValue any, byThisNode bool) {
	if l.Changed != nil {
		l.Changed(name, oldValue, newValue, byThisNode)
	}
}

func (l *ListenerFuncs) PropertyChangeConfirmed(name string, value any) {
	if l.Confirmed != nil {
		l.Confirmed(name, value)
	}
}

// AddListener registers l. Registering the same listener twice delivers
// every event twice.
func (m *Manager) AddListener(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	current := *m.listeners.Load()
	next := make([]Listener, len(current), len(current)+1)
	copy(next, current)
	next = append(next, l)
	m.listeners.Store(&next)
}

// RemoveListener unregisters the first registration of l
func (m *Manager) RemoveListener(l Listener) {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	current := *m.listeners.Load()
	i := slices.Index(current, l)
	if i < 0 {
		return
	}
	next := slices.Delete(slices.Clone(current), i, i+1)
	m.listeners.Store(&next)
}

type eventKind int

const (
	eventChanged eventKind = iota
	eventConfirmed
)

type event struct {
	kind       eventKind
	name       string
	oldValue   any
	newValue   any
	byThisNode bool
}

// dispatch delivers events in order to the listeners registered when it
// starts. Must not be called with mu held.
func (m *Manager) dispatch(events []event) {
	if len(events) == 0 {
		return
	}
	listeners := *m.listeners.Load()
	for _, e := range events {
		for _, l := range listeners {
			m.deliver(l, e)
		}
	}
}

// deliver calls one listener; a panic is logged and does not stop delivery
// to the others
func (m *Manager) deliver(l Listener, e event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("property listener panicked",
				logging.Property(e.name),
				logging.String("callback", e.kind.String()),
				logging.String("panic", fmt.Sprint(r)))
			if m.metrics != nil {
				m.metrics.ListenerPanicsTotal.Inc()
			}
		}
	}()

	switch e.kind {
	case eventChanged:
		l.PropertyChanged(e.name, e.oldValue, e.newValue, e.byThisNode)
	case eventConfirmed:
		l.PropertyChangeConfirmed(e.name, e.newValue)
	}
}

func (k eventKind) String() string {
	if k == eventConfirmed {
		return "PropertyChangeConfirmed"
	}
	return "PropertyChanged"
}
