package cluster

import (
	"errors"
	"fmt"
)

// Configuration errors
var (
	ErrInvalidTimeout         = errors.New("node timeouts and poll intervals must be positive")
	ErrInvalidRefetchInterval = errors.New("refetch interval must be positive")
	ErrTimeoutOrder           = errors.New("timeout for other nodes must not be smaller than timeout for running nodes")
	ErrRefetchTooSlow         = errors.New("refetch interval must be smaller than the running node timeout")
	ErrNilStore               = errors.New("cluster mode requires a store")
)

// Lifecycle errors
var (
	ErrAlreadyInitialized = errors.New("cluster node already initialized")
	ErrNotInitialized     = errors.New("cluster node not initialized")
	ErrAlreadyStarted     = errors.New("periodic refetch already started")
)

// Declaration errors
var (
	ErrEmptyPropertyName = errors.New("property name must not be empty")
	ErrAlreadyDeclared   = errors.New("property already declared")
	ErrNotDeclared       = errors.New("property not declared")
	ErrNotBijective      = errors.New("value does not survive an encode/decode round trip")
	ErrTypeMismatch      = errors.New("cached value has a different type than the declaration")
	ErrNilCodec          = errors.New("codec must not be nil")
	ErrDecode            = errors.New("stored property value does not decode with the declared codec")
)

// Store and confirmation errors
var (
	ErrStore         = errors.New("cluster store operation failed")
	ErrPendingChange = errors.New("property has an unconfirmed change")
)

// StoreError wraps a failure of the shared store. The node keeps running and
// the next refetch retries naturally.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cluster %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrStore) match any StoreError
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// DecodeError reports a stored value the declared codec rejects. It is a
// usage error, not a store failure.
type DecodeError struct {
	Property string
	Value    string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("property %q: cannot decode %q: %v", e.Property, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDecode) match any DecodeError
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// PendingChangeError reports that a property has a change not yet confirmed
// by every running node. Old is the last confirmed value (HasOld is false if
// there was none) and New the unconfirmed one.
type PendingChangeError struct {
	Property string
	Old      any
	HasOld   bool
	New      any
}

func (e *PendingChangeError) Error() string {
	if !e.HasOld {
		return fmt.Sprintf("property %q has an unconfirmed change to %v", e.Property, e.New)
	}
	return fmt.Sprintf("property %q has an unconfirmed change from %v to %v", e.Property, e.Old, e.New)
}

// Is makes errors.Is(err, ErrPendingChange) match any PendingChangeError
func (e *PendingChangeError) Is(target error) bool {
	return target == ErrPendingChange
}
