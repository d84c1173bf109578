package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dd0wney/cluso-coord/pkg/store"
)

type pgTx struct {
	tx   pgx.Tx
	q    *queries
	done bool
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) (int64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}
	result, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func (t *pgTx) exists(ctx context.Context, sql string, args ...any) (bool, error) {
	if t.done {
		return false, store.ErrTxDone
	}
	var found bool
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&found); err != nil {
		return false, err
	}
	return found, nil
}

// NextSequence locks the sequence row, creating it on first use
func (t *pgTx) NextSequence(ctx context.Context, name string) (int64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}

	var current int64
	err := t.tx.QueryRow(ctx, t.q.nextSeq, name).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := t.tx.Exec(ctx, t.q.insertSeq, name); err != nil {
			return 0, fmt.Errorf("failed to create sequence %s: %w", name, err)
		}
		err = t.tx.QueryRow(ctx, t.q.nextSeq, name).Scan(&current)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock sequence %s: %w", name, err)
	}

	next := current + 1
	if _, err := t.tx.Exec(ctx, t.q.advanceSeq, next, name); err != nil {
		return 0, fmt.Errorf("failed to advance sequence %s: %w", name, err)
	}
	return next, nil
}

func (t *pgTx) Now(ctx context.Context) (int64, error) {
	if t.done {
		return 0, store.ErrTxDone
	}
	var ms int64
	if err := t.tx.QueryRow(ctx, t.q.now).Scan(&ms); err != nil {
		return 0, fmt.Errorf("failed to read server time: %w", err)
	}
	return ms, nil
}

func (t *pgTx) InsertNode(ctx context.Context, row store.NodeRow) error {
	_, err := t.exec(ctx, t.q.insertNode, row.ID, row.State, row.LifeSign, row.ConfirmedSeq)
	return err
}

func (t *pgTx) DeleteNode(ctx context.Context, id int64) (int64, error) {
	return t.exec(ctx, t.q.deleteNode, id)
}

func (t *pgTx) UpdateLifeSign(ctx context.Context, id int64, lifeSign int64) (int64, error) {
	return t.exec(ctx, t.q.lifeSign, lifeSign, id)
}

func (t *pgTx) SetNodeState(ctx context.Context, id int64, state string) (int64, error) {
	return t.exec(ctx, t.q.setState, state, id)
}

func (t *pgTx) SetConfirmed(ctx context.Context, id int64, seq int64) (int64, error) {
	return t.exec(ctx, t.q.setConfirmed, seq, id)
}

func (t *pgTx) DeleteStaleNodes(ctx context.Context, state string, before int64) (int64, error) {
	if state == "" {
		return t.exec(ctx, t.q.deleteStale, before)
	}
	return t.exec(ctx, t.q.deleteStaleIn, state, before)
}

func (t *pgTx) AnyNode(ctx context.Context) (bool, error) {
	return t.exists(ctx, t.q.anyNode)
}

func (t *pgTx) AnyNodeNotIn(ctx context.Context, state string) (bool, error) {
	return t.exists(ctx, t.q.anyNodeNotIn, state)
}

func (t *pgTx) NodeState(ctx context.Context, id int64) (string, bool, error) {
	if t.done {
		return "", false, store.ErrTxDone
	}
	var state string
	err := t.tx.QueryRow(ctx, t.q.nodeState, id).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return state, true, nil
}

func (t *pgTx) NodesInStates(ctx context.Context, states ...string) ([]int64, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	rows, err := t.tx.Query(ctx, t.q.nodesInStates, states)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *pgTx) Nodes(ctx context.Context) ([]store.NodeRow, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	rows, err := t.tx.Query(ctx, t.q.nodes)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.NodeRow, error) {
		var n store.NodeRow
		err := row.Scan(&n.ID, &n.State, &n.LifeSign, &n.ConfirmedSeq)
		return n, err
	})
}

func (t *pgTx) AnyUnconfirmed(ctx context.Context, state string, seq int64) (bool, error) {
	return t.exists(ctx, t.q.anyUnconfirm, state, seq)
}

func scanProperty(row pgx.Row) (store.PropertyRecord, error) {
	var rec store.PropertyRecord
	err := row.Scan(&rec.Name, &rec.Value, &rec.OldValue, &rec.Seq)
	return rec, err
}

func (t *pgTx) ReadProperty(ctx context.Context, name string) (*store.PropertyRecord, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	rec, err := scanProperty(t.tx.QueryRow(ctx, t.q.readProp, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *pgTx) InsertProperty(ctx context.Context, rec store.PropertyRecord) error {
	_, err := t.exec(ctx, t.q.insertProp, rec.Name, rec.Value, rec.OldValue, rec.Seq)
	return err
}

func (t *pgTx) UpdateProperty(ctx context.Context, rec store.PropertyRecord) (int64, error) {
	return t.exec(ctx, t.q.updateProp, rec.Value, rec.OldValue, rec.Seq, rec.Name)
}

func (t *pgTx) ReadChanges(ctx context.Context, after int64) ([]store.PropertyRecord, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	rows, err := t.tx.Query(ctx, t.q.readChanges, after)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.PropertyRecord, error) {
		return scanProperty(row)
	})
}

func (t *pgTx) TruncateProperties(ctx context.Context) (int64, error) {
	return t.exec(ctx, t.q.truncateProps)
}
