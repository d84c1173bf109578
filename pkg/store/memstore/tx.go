package memstore

import (
	"context"
	"errors"

	"github.com/dd0wney/cluso-coord/pkg/store"
)

var (
	errClosed       = errors.New("memstore: store closed")
	errDuplicateKey = errors.New("memstore: duplicate key")
)

type memTx struct {
	s    *Store
	st   *state
	done bool
}

// check returns an injected failure for op, if any
func (tx *memTx) check(ctx context.Context, op string) error {
	if tx.done {
		return store.ErrTxDone
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err, ok := tx.s.failures[op]; ok {
		delete(tx.s.failures, op)
		return err
	}
	return nil
}

func (tx *memTx) NextSequence(ctx context.Context, name string) (int64, error) {
	if err := tx.check(ctx, "NextSequence"); err != nil {
		return 0, err
	}
	tx.st.sequences[name]++
	return tx.st.sequences[name], nil
}

func (tx *memTx) Now(ctx context.Context) (int64, error) {
	if err := tx.check(ctx, "Now"); err != nil {
		return 0, err
	}
	return tx.s.now(), nil
}

func (tx *memTx) InsertNode(ctx context.Context, row store.NodeRow) error {
	if err := tx.check(ctx, "InsertNode"); err != nil {
		return err
	}
	if _, ok := tx.st.nodes[row.ID]; ok {
		return errDuplicateKey
	}
	if row.ConfirmedSeq != nil {
		row.ConfirmedSeq = store.Int64Ptr(*row.ConfirmedSeq)
	}
	tx.st.nodes[row.ID] = row
	return nil
}

func (tx *memTx) DeleteNode(ctx context.Context, id int64) (int64, error) {
	if err := tx.check(ctx, "DeleteNode"); err != nil {
		return 0, err
	}
	if _, ok := tx.st.nodes[id]; !ok {
		return 0, nil
	}
	delete(tx.st.nodes, id)
	return 1, nil
}

func (tx *memTx) UpdateLifeSign(ctx context.Context, id int64, lifeSign int64) (int64, error) {
	if err := tx.check(ctx, "UpdateLifeSign"); err != nil {
		return 0, err
	}
	return tx.updateNode(id, func(row *store.NodeRow) { row.LifeSign = lifeSign }), nil
}

func (tx *memTx) SetNodeState(ctx context.Context, id int64, state string) (int64, error) {
	if err := tx.check(ctx, "SetNodeState"); err != nil {
		return 0, err
	}
	return tx.updateNode(id, func(row *store.NodeRow) { row.State = state }), nil
}

func (tx *memTx) SetConfirmed(ctx context.Context, id int64, seq int64) (int64, error) {
	if err := tx.check(ctx, "SetConfirmed"); err != nil {
		return 0, err
	}
	return tx.updateNode(id, func(row *store.NodeRow) { row.ConfirmedSeq = store.Int64Ptr(seq) }), nil
}

func (tx *memTx) updateNode(id int64, fn func(row *store.NodeRow)) int64 {
	row, ok := tx.st.nodes[id]
	if !ok {
		return 0
	}
	fn(&row)
	tx.st.nodes[id] = row
	return 1
}

func (tx *memTx) DeleteStaleNodes(ctx context.Context, state string, before int64) (int64, error) {
	if err := tx.check(ctx, "DeleteStaleNodes"); err != nil {
		return 0, err
	}
	var n int64
	for id, row := range tx.st.nodes {
		if (state == "" || row.State == state) && row.LifeSign < before {
			delete(tx.st.nodes, id)
			n++
		}
	}
	return n, nil
}

func (tx *memTx) AnyNode(ctx context.Context) (bool, error) {
	if err := tx.check(ctx, "AnyNode"); err != nil {
		return false, err
	}
	return len(tx.st.nodes) > 0, nil
}

func (tx *memTx) AnyNodeNotIn(ctx context.Context, state string) (bool, error) {
	if err := tx.check(ctx, "AnyNodeNotIn"); err != nil {
		return false, err
	}
	for _, row := range tx.st.nodes {
		if row.State != state {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) NodeState(ctx context.Context, id int64) (string, bool, error) {
	if err := tx.check(ctx, "NodeState"); err != nil {
		return "", false, err
	}
	row, ok := tx.st.nodes[id]
	return row.State, ok, nil
}

func (tx *memTx) NodesInStates(ctx context.Context, states ...string) ([]int64, error) {
	if err := tx.check(ctx, "NodesInStates"); err != nil {
		return nil, err
	}
	var ids []int64
	for _, row := range sortedNodes(tx.st.nodes) {
		for _, s := range states {
			if row.State == s {
				ids = append(ids, row.ID)
				break
			}
		}
	}
	return ids, nil
}

func (tx *memTx) Nodes(ctx context.Context) ([]store.NodeRow, error) {
	if err := tx.check(ctx, "Nodes"); err != nil {
		return nil, err
	}
	return sortedNodes(tx.st.nodes), nil
}

func (tx *memTx) AnyUnconfirmed(ctx context.Context, state string, seq int64) (bool, error) {
	if err := tx.check(ctx, "AnyUnconfirmed"); err != nil {
		return false, err
	}
	for _, row := range tx.st.nodes {
		if row.State != state {
			continue
		}
		if row.ConfirmedSeq == nil || *row.ConfirmedSeq < seq {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memTx) ReadProperty(ctx context.Context, name string) (*store.PropertyRecord, error) {
	if err := tx.check(ctx, "ReadProperty"); err != nil {
		return nil, err
	}
	rec, ok := tx.st.props[name]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (tx *memTx) InsertProperty(ctx context.Context, rec store.PropertyRecord) error {
	if err := tx.check(ctx, "InsertProperty"); err != nil {
		return err
	}
	if _, ok := tx.st.props[rec.Name]; ok {
		return errDuplicateKey
	}
	tx.st.props[rec.Name] = rec
	return nil
}

func (tx *memTx) UpdateProperty(ctx context.Context, rec store.PropertyRecord) (int64, error) {
	if err := tx.check(ctx, "UpdateProperty"); err != nil {
		return 0, err
	}
	if _, ok := tx.st.props[rec.Name]; !ok {
		return 0, nil
	}
	tx.st.props[rec.Name] = rec
	return 1, nil
}

func (tx *memTx) ReadChanges(ctx context.Context, after int64) ([]store.PropertyRecord, error) {
	if err := tx.check(ctx, "ReadChanges"); err != nil {
		return nil, err
	}
	return sortedProps(tx.st.props, after), nil
}

func (tx *memTx) TruncateProperties(ctx context.Context) (int64, error) {
	if err := tx.check(ctx, "TruncateProperties"); err != nil {
		return 0, err
	}
	n := int64(len(tx.st.props))
	clear(tx.st.props)
	return n, nil
}
