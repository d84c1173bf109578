package cluster

import (
	"context"
	"errors"
	"fmt"
)

// declaration is the type-erased view of a declared property
type declaration interface {
	decode(raw string) (any, error)
}

type typedDeclaration[T comparable] struct {
	codec Codec[T]
}

func (d *typedDeclaration[T]) decode(raw string) (any, error) {
	return d.codec.Decode(raw)
}

// Property is the typed handle of a declared cluster property. A handle
// stops working once the property is undeclared, even if it is declared
// again later.
type Property[T comparable] struct {
	m    *Manager
	name string
	decl *typedDeclaration[T]
}

// Confirmed is the result of a confirmed read. Pending is set when the last
// change is not yet acknowledged by every running node; Value and Present
// are only meaningful when Pending is nil.
type Confirmed[T comparable] struct {
	Value   T
	Present bool
	Pending *Pending[T]
}

// Pending describes an unconfirmed change
type Pending[T comparable] struct {
	Old    T
	HasOld bool
	New    T
}

// Declare registers a typed property. A value a peer wrote before the
// declaration is decoded right away; if that fails the property stays
// undeclared.
func Declare[T comparable](m *Manager, name string, codec Codec[T]) (*Property[T], error) {
	if name == "" {
		return nil, ErrEmptyPropertyName
	}
	if codec == nil {
		return nil, ErrNilCodec
	}

	decl := &typedDeclaration[T]{codec: codec}
	if err := m.declare(name, decl); err != nil {
		return nil, err
	}
	return &Property[T]{m: m, name: name, decl: decl}, nil
}

// Name returns the property name
func (p *Property[T]) Name() string {
	return p.name
}

// Get returns the cached value without store access. The value may be stale
// or reflect a change that is not yet confirmed.
func (p *Property[T]) Get() (T, bool, error) {
	var zero T
	value, ok, err := p.m.cachedValue(p.name, p.decl)
	if err != nil || !ok {
		return zero, false, err
	}
	typed, isT := value.(T)
	if !isT {
		return zero, false, fmt.Errorf("%w: %q holds %T", ErrTypeMismatch, p.name, value)
	}
	return typed, true, nil
}

// Set writes v, overwriting a pending change of another writer
func (p *Property[T]) Set(ctx context.Context, v T) error {
	return p.set(ctx, v, true)
}

// SetIfUnchanged writes v only if the property has no pending change;
// otherwise it returns a *PendingChangeError and writes nothing
func (p *Property[T]) SetIfUnchanged(ctx context.Context, v T) error {
	return p.set(ctx, v, false)
}

// SetAndWait writes v and waits until the change is confirmed
func (p *Property[T]) SetAndWait(ctx context.Context, v T) error {
	if err := p.Set(ctx, v); err != nil {
		return err
	}
	return p.m.WaitForConfirmation(ctx, p.name)
}

func (p *Property[T]) set(ctx context.Context, v T, overwrite bool) error {
	raw, err := roundTrip(p.decl.codec, v)
	if err != nil {
		return err
	}
	return p.m.setValue(ctx, p.name, p.decl, raw, v, overwrite)
}

// Confirmed refetches and returns the value all running nodes have
// acknowledged, or the pending change if there is one
func (p *Property[T]) Confirmed(ctx context.Context) (Confirmed[T], error) {
	var result Confirmed[T]

	read, err := p.m.confirmedValue(ctx, p.name, p.decl)
	if err != nil {
		return result, err
	}
	if read.cached {
		result.Value, result.Present, err = p.Get()
		return result, err
	}
	if read.rec == nil {
		return result, nil
	}

	newValue, err := p.decl.codec.Decode(read.rec.Value)
	if err != nil {
		return result, &DecodeError{Property: p.name, Value: read.rec.Value, Err: err}
	}
	if read.confirmed {
		result.Value, result.Present = newValue, true
		return result, nil
	}

	pending := &Pending[T]{New: newValue}
	if read.rec.OldValue != nil {
		if pending.Old, err = p.decl.codec.Decode(*read.rec.OldValue); err != nil {
			return result, &DecodeError{Property: p.name, Value: *read.rec.OldValue, Err: err}
		}
		pending.HasOld = true
	}
	result.Pending = pending
	return result, nil
}

// ConfirmedWaiting returns the confirmed value, waiting for a pending change
// to be confirmed first
func (p *Property[T]) ConfirmedWaiting(ctx context.Context) (T, bool, error) {
	c, err := p.Confirmed(ctx)
	if err != nil || c.Pending == nil {
		return c.Value, c.Present, err
	}
	if err := p.m.WaitForConfirmation(ctx, p.name); err != nil {
		var zero T
		return zero, false, err
	}
	return p.Get()
}

// LatestUnconfirmed returns the newest value, confirmed or not
func (p *Property[T]) LatestUnconfirmed(ctx context.Context) (T, bool, error) {
	c, err := p.Confirmed(ctx)
	if err != nil || c.Pending == nil {
		return c.Value, c.Present, err
	}
	return c.Pending.New, true, nil
}

// LatestConfirmed returns the last value every running node acknowledged
func (p *Property[T]) LatestConfirmed(ctx context.Context) (T, bool, error) {
	c, err := p.Confirmed(ctx)
	if err != nil || c.Pending == nil {
		return c.Value, c.Present, err
	}
	return c.Pending.Old, c.Pending.HasOld, nil
}

// AsPendingChange converts a PendingChangeError carrying values of this
// property's type
func (p *Property[T]) AsPendingChange(err error) (*Pending[T], bool) {
	var pce *PendingChangeError
	if !errors.As(err, &pce) || pce.Property != p.name {
		return nil, false
	}
	newValue, ok := pce.New.(T)
	if !ok {
		return nil, false
	}
	pending := &Pending[T]{New: newValue, HasOld: pce.HasOld}
	if pce.HasOld {
		if pending.Old, ok = pce.Old.(T); !ok {
			return nil, false
		}
	}
	return pending, true
}
