package pgstore

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dd0wney/cluso-coord/pkg/store"
)

func TestNewQueries_TablePrefix(t *testing.T) {
	q := newQueries("blue_")

	assert.Contains(t, q.schema, "blue_cluster_node")
	assert.Contains(t, q.schema, "blue_cluster_value")
	assert.Contains(t, q.schema, "blue_cluster_sequence")
	assert.Contains(t, q.nextSeq, "FOR UPDATE")
	assert.True(t, strings.HasPrefix(q.readChanges, "SELECT"))
	assert.Contains(t, q.readChanges, "ORDER BY seq_number")
}

func TestOrDefault(t *testing.T) {
	assert.Equal(t, int32(7), orDefault(int32(0), 7))
	assert.Equal(t, int32(3), orDefault(int32(3), 7))
	assert.Equal(t, time.Minute, orDefault(time.Duration(0), time.Minute))
}

// testStore connects to the database named by COORD_TEST_DATABASE_URL and
// isolates the run with a unique table prefix.
func testStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("COORD_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("COORD_TEST_DATABASE_URL not set")
	}

	prefix := "t" + strings.ReplaceAll(time.Now().Format("150405.000000"), ".", "") + "_"
	s, err := New(context.Background(), PoolConfig{DSN: dsn, TablePrefix: prefix})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range []string{"cluster_node", "cluster_value", "cluster_sequence"} {
			_, _ = s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+prefix+table)
		}
		s.Close()
	})
	return s
}

func TestPGStore_Integration(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	var now int64
	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		n1, err := tx.NextSequence(ctx, store.SeqRequest)
		require.NoError(t, err)
		n2, err := tx.NextSequence(ctx, store.SeqRequest)
		require.NoError(t, err)
		assert.Equal(t, n1+1, n2)

		now, err = tx.Now(ctx)
		require.NoError(t, err)

		require.NoError(t, tx.InsertNode(ctx, store.NodeRow{ID: 1, State: "RUNNING", LifeSign: now}))
		require.NoError(t, tx.InsertNode(ctx, store.NodeRow{ID: 2, State: "STARTUP", LifeSign: now - 10_000}))

		affected, err := tx.SetConfirmed(ctx, 1, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(1), affected)

		return tx.InsertProperty(ctx, store.PropertyRecord{Name: "p", Value: "1", Seq: 5})
	}))

	require.NoError(t, s.InTx(ctx, func(tx store.Tx) error {
		ids, err := tx.NodesInStates(ctx, "RUNNING", "STARTUP")
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 2}, ids)

		unconfirmed, err := tx.AnyUnconfirmed(ctx, "RUNNING", 5)
		require.NoError(t, err)
		assert.False(t, unconfirmed)

		deleted, err := tx.DeleteStaleNodes(ctx, "", now-5_000)
		require.NoError(t, err)
		assert.Equal(t, int64(1), deleted)

		affected, err := tx.UpdateProperty(ctx, store.PropertyRecord{Name: "p", Value: "2", OldValue: store.StringPtr("1"), Seq: 6})
		require.NoError(t, err)
		assert.Equal(t, int64(1), affected)

		rec, err := tx.ReadProperty(ctx, "p")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "2", rec.Value)
		require.NotNil(t, rec.OldValue)
		assert.Equal(t, "1", *rec.OldValue)

		missing, err := tx.ReadProperty(ctx, "nope")
		require.NoError(t, err)
		assert.Nil(t, missing)

		changes, err := tx.ReadChanges(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, changes, 1)
		return nil
	}))
}
