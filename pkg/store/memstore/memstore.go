// Package memstore is an in-process implementation of store.Store.
//
// A single mutex is held for the whole transaction, which makes every
// transaction serializable and gives the same total order the sequence row
// lock gives in a relational store. Several cluster managers sharing one
// Store behave like nodes sharing one database.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/store"
)

// Option configures a Store
type Option func(*Store)

// WithClock replaces the store server clock (milliseconds)
func WithClock(now func() int64) Option {
	return func(s *Store) {
		s.now = now
	}
}

type state struct {
	nodes     map[int64]store.NodeRow
	props     map[string]store.PropertyRecord
	sequences map[string]int64
}

func (st *state) clone() *state {
	c := &state{
		nodes:     maps.Clone(st.nodes),
		props:     maps.Clone(st.props),
		sequences: maps.Clone(st.sequences),
	}
	return c
}

// Store is an in-memory shared store
type Store struct {
	mu       sync.Mutex
	st       *state
	now      func() int64
	failures map[string]error
	closed   bool
}

// New creates an empty store
func New(opts ...Option) *Store {
	s := &Store{
		st: &state{
			nodes:     make(map[int64]store.NodeRow),
			props:     make(map[string]store.PropertyRecord),
			sequences: make(map[string]int64),
		},
		now:      func() int64 { return time.Now().UnixMilli() },
		failures: make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn on a private copy of the store state and publishes the copy
// only if fn succeeds.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	tx := &memTx{s: s, st: s.st.clone()}
	err := fn(tx)
	tx.done = true
	if err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// Ping always succeeds on an open store
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errClosed
	}
	return ctx.Err()
}

// Close marks the store closed
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// FailNext makes the next call of the named Tx operation fail with err.
// Operation names are the Tx method names, e.g. "ReadChanges".
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

// SetLifeSign overwrites a node's life sign outside of any cluster
// transaction. It reports whether the row exists.
func (s *Store) SetLifeSign(id int64, lifeSign int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.st.nodes[id]
	if !ok {
		return false
	}
	row.LifeSign = lifeSign
	s.st.nodes[id] = row
	return true
}

// PutNode inserts or replaces a roster row outside of any cluster transaction
func (s *Store) PutNode(row store.NodeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.nodes[row.ID] = row
}

// PutProperty inserts or replaces a property log row outside of any cluster
// transaction
func (s *Store) PutProperty(rec store.PropertyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.props[rec.Name] = rec
}

// DeleteNodeRow removes a roster row outside of any cluster transaction
func (s *Store) DeleteNodeRow(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.st.nodes[id]
	delete(s.st.nodes, id)
	return ok
}

// NodeRows returns the roster ordered by id
func (s *Store) NodeRows() []store.NodeRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedNodes(s.st.nodes)
}

// PropertyRows returns the property log ordered by seq
func (s *Store) PropertyRows() []store.PropertyRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedProps(s.st.props, -1)
}

// Now returns the store clock
func (s *Store) Now() int64 {
	return s.now()
}

func sortedNodes(nodes map[int64]store.NodeRow) []store.NodeRow {
	rows := slices.Collect(maps.Values(nodes))
	slices.SortFunc(rows, func(a, b store.NodeRow) int {
		return compareInt64(a.ID, b.ID)
	})
	return rows
}

func sortedProps(props map[string]store.PropertyRecord, after int64) []store.PropertyRecord {
	rows := make([]store.PropertyRecord, 0, len(props))
	for _, rec := range props {
		if rec.Seq > after {
			rows = append(rows, rec)
		}
	}
	slices.SortFunc(rows, func(a, b store.PropertyRecord) int {
		return compareInt64(a.Seq, b.Seq)
	})
	return rows
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
