// Package store defines the shared transactional store the cluster coordinator
// uses as its single ordering authority.
//
// The store holds two logical tables:
//   - the node roster, one row per live process
//   - the property log, one row per property name
//
// plus named monotonic sequences. Every coordination step runs inside one
// transaction that first allocates from SeqRequest, so the sequence row lock
// serializes all cluster transactions and allocation order equals global order.
package store

import (
	"context"
	"errors"
)

// Sequence names
const (
	SeqNode    = "cm_node"
	SeqMessage = "cm_message"
	SeqRequest = "cm_request"
)

// ErrTxDone is returned when a Tx is used after its InTx callback returned
var ErrTxDone = errors.New("transaction already finished")

// NodeRow is one row of the node roster
type NodeRow struct {
	ID           int64
	State        string
	LifeSign     int64  // store time in milliseconds
	ConfirmedSeq *int64 // highest property log seq this node acknowledged
}

// PropertyRecord is one row of the property log
type PropertyRecord struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	OldValue *string `json:"old_value,omitempty"` // value before the current, unconfirmed change
	Seq      int64   `json:"seq"`
}

// Store is a transactional store shared by all nodes of a cluster
type Store interface {
	// InTx runs fn inside one serializable transaction. The transaction is
	// committed when fn returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// Ping checks connectivity
	Ping(ctx context.Context) error
	// Close releases the underlying resources
	Close() error
}

// Tx is the set of operations available inside a store transaction.
// Missing rows are reported as nil/false, never as errors.
type Tx interface {
	// NextSequence allocates the next number of the named sequence and keeps
	// the sequence row locked until the transaction ends.
	NextSequence(ctx context.Context, name string) (int64, error)
	// Now returns the store server time in milliseconds
	Now(ctx context.Context) (int64, error)

	InsertNode(ctx context.Context, row NodeRow) error
	DeleteNode(ctx context.Context, id int64) (int64, error)
	UpdateLifeSign(ctx context.Context, id int64, lifeSign int64) (int64, error)
	SetNodeState(ctx context.Context, id int64, state string) (int64, error)
	SetConfirmed(ctx context.Context, id int64, seq int64) (int64, error)
	// DeleteStaleNodes removes rows with a life sign older than before. An
	// empty state matches every state.
	DeleteStaleNodes(ctx context.Context, state string, before int64) (int64, error)
	AnyNode(ctx context.Context) (bool, error)
	AnyNodeNotIn(ctx context.Context, state string) (bool, error)
	NodeState(ctx context.Context, id int64) (string, bool, error)
	NodesInStates(ctx context.Context, states ...string) ([]int64, error)
	Nodes(ctx context.Context) ([]NodeRow, error)
	// AnyUnconfirmed reports whether a node in the given state has not yet
	// confirmed seq (confirmed seq is null or lower).
	AnyUnconfirmed(ctx context.Context, state string, seq int64) (bool, error)

	ReadProperty(ctx context.Context, name string) (*PropertyRecord, error)
	InsertProperty(ctx context.Context, rec PropertyRecord) error
	UpdateProperty(ctx context.Context, rec PropertyRecord) (int64, error)
	// ReadChanges returns all records with seq > after ordered by seq
	ReadChanges(ctx context.Context, after int64) ([]PropertyRecord, error)
	TruncateProperties(ctx context.Context) (int64, error)
}

// StringPtr returns a pointer to a copy of s
func StringPtr(s string) *string {
	return &s
}

// Int64Ptr returns a pointer to a copy of v
func Int64Ptr(v int64) *int64 {
	return &v
}
