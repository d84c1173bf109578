package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperty_ConfirmationAcrossNodes(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)
	ra := record(a)
	rb := record(b)

	pa, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)
	pb, err := Declare(b, "x", IntCodec)
	require.NoError(t, err)

	require.NoError(t, pa.Set(ctx, 1))

	// The writer sees its value at once
	v, ok, err := pa.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, []changedEvent{{Name: "x", Old: nil, New: 1, ByThisNode: true}}, ra.Changed())
	assert.Empty(t, ra.Confirmed())

	// Unconfirmed while only the writer has read it back
	conf, err := pa.Confirmed(ctx)
	require.NoError(t, err)
	require.NotNil(t, conf.Pending)
	assert.False(t, conf.Pending.HasOld)
	assert.Equal(t, 1, conf.Pending.New)

	latest, ok, err := pa.LatestUnconfirmed(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, latest)
	_, ok, err = pa.LatestConfirmed(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	confirmed, err := a.IsConfirmed(ctx, "x")
	require.NoError(t, err)
	assert.False(t, confirmed)

	// The second node catches up
	require.NoError(t, b.Refetch(ctx))
	assert.Equal(t, []changedEvent{{Name: "x", Old: nil, New: 1, ByThisNode: false}}, rb.Changed())
	assert.Equal(t, []confirmedEvent{{Name: "x", Value: 1}}, rb.Confirmed())

	require.NoError(t, a.Refetch(ctx))
	assert.Equal(t, []confirmedEvent{{Name: "x", Value: 1}}, ra.Confirmed())
	assert.Len(t, ra.Changed(), 1, "own write must not be reported twice")

	for _, p := range []*Property[int]{pa, pb} {
		conf, err := p.Confirmed(ctx)
		require.NoError(t, err)
		assert.Nil(t, conf.Pending)
		assert.True(t, conf.Present)
		assert.Equal(t, 1, conf.Value)
	}

	all, err := b.AllConfirmed(ctx)
	require.NoError(t, err)
	assert.True(t, all)
}

func TestProperty_OnlyRunningNodesConfirm(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	c.node(StateStartup)
	ra := record(a)

	pa, err := Declare(a, "x", StringCodec)
	require.NoError(t, err)
	require.NoError(t, pa.Set(ctx, "on"))

	assert.Equal(t, []confirmedEvent{{Name: "x", Value: "on"}}, ra.Confirmed())
}

func TestProperty_SetIfUnchangedConflict(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)

	pa, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)
	pb, err := Declare(b, "x", IntCodec)
	require.NoError(t, err)

	require.NoError(t, pa.Set(ctx, 1))
	require.NoError(t, b.Refetch(ctx))
	require.NoError(t, pa.Set(ctx, 2))
	rowsBefore := c.store.PropertyRows()

	err = pb.SetIfUnchanged(ctx, 3)
	require.ErrorIs(t, err, ErrPendingChange)

	pending, ok := pb.AsPendingChange(err)
	require.True(t, ok)
	assert.True(t, pending.HasOld)
	assert.Equal(t, 1, pending.Old)
	assert.Equal(t, 2, pending.New)
	assert.Equal(t, rowsBefore, c.store.PropertyRows(), "a rejected write must not touch the log")

	_, ok = pb.AsPendingChange(errors.New("other"))
	assert.False(t, ok)

	// Once every running node acknowledged the change the write goes through
	require.NoError(t, b.Refetch(ctx))
	require.NoError(t, pb.SetIfUnchanged(ctx, 3))
	v, _, err := pb.Get()
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestProperty_ConcurrentSetIfUnchangedHasOneWinner(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)

	pa, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)
	pb, err := Declare(b, "x", IntCodec)
	require.NoError(t, err)
	require.NoError(t, pa.Set(ctx, 0))
	require.NoError(t, b.Refetch(ctx))

	last := 0
	for round := 1; round <= 20; round++ {
		values := map[*Property[int]]int{pa: 2 * round, pb: 2*round + 1}
		errs := make(map[*Property[int]]error, 2)
		var mu sync.Mutex
		var wg sync.WaitGroup
		for p, v := range values {
			wg.Go(func() {
				err := p.SetIfUnchanged(ctx, v)
				mu.Lock()
				errs[p] = err
				mu.Unlock()
			})
		}
		wg.Wait()

		var winners []*Property[int]
		var loser *Property[int]
		for p, err := range errs {
			if err == nil {
				winners = append(winners, p)
			} else {
				loser = p
			}
		}
		require.Len(t, winners, 1, "round %d", round)
		require.NotNil(t, loser)

		pending, ok := loser.AsPendingChange(errs[loser])
		require.True(t, ok, "round %d: %v", round, errs[loser])
		assert.Equal(t, values[winners[0]], pending.New)
		assert.True(t, pending.HasOld)
		assert.Equal(t, last, pending.Old, "round %d", round)
		last = values[winners[0]]

		require.NoError(t, a.Refetch(ctx))
		require.NoError(t, b.Refetch(ctx))
	}
}

func TestProperty_OverwriteKeepsConfirmedOldValue(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)
	ra := record(a)
	rb := record(b)

	pa, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)
	pb, err := Declare(b, "x", IntCodec)
	require.NoError(t, err)

	require.NoError(t, pa.Set(ctx, 1))
	require.NoError(t, b.Refetch(ctx))
	require.NoError(t, a.Refetch(ctx))

	require.NoError(t, pa.Set(ctx, 2))
	require.NoError(t, pa.Set(ctx, 3))

	changed := ra.Changed()
	require.Len(t, changed, 3)
	assert.Equal(t, changedEvent{Name: "x", Old: 1, New: 2, ByThisNode: true}, changed[1])
	assert.Equal(t, changedEvent{Name: "x", Old: 1, New: 3, ByThisNode: true}, changed[2])

	conf, err := pb.Confirmed(ctx)
	require.NoError(t, err)
	assert.Nil(t, conf.Pending)
	assert.Equal(t, 3, conf.Value)

	remote := rb.Changed()
	require.Len(t, remote, 2)
	assert.Equal(t, changedEvent{Name: "x", Old: 1, New: 3, ByThisNode: false}, remote[1])
}

func TestProperty_DeclareAfterRemoteWrite(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)
	rb := record(b)

	pa, err := Declare(a, "greeting", StringCodec)
	require.NoError(t, err)
	require.NoError(t, pa.Set(ctx, "hello"))
	require.NoError(t, b.Refetch(ctx))

	// Undeclared properties are cached and confirmed but not reported as changed
	assert.Empty(t, rb.Changed())
	assert.Equal(t, []confirmedEvent{{Name: "greeting", Value: "hello"}}, rb.Confirmed())
	assert.Equal(t, []PropertyInfo{{Name: "greeting", Value: "hello"}}, b.Properties())

	_, _, err = b.Value("greeting")
	assert.ErrorIs(t, err, ErrNotDeclared)

	pb, err := Declare(b, "greeting", StringCodec)
	require.NoError(t, err)
	v, ok, err := pb.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", v)

	raw, ok, err := b.Value("greeting")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", raw)
}

func TestProperty_DeclareWithIncompatibleCachedValue(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)

	pa, err := Declare(a, "n", StringCodec)
	require.NoError(t, err)
	require.NoError(t, pa.Set(ctx, "abc"))
	require.NoError(t, b.Refetch(ctx))

	_, err = Declare(b, "n", IntCodec)
	require.ErrorIs(t, err, ErrDecode)
	assert.False(t, b.IsDeclared("n"))

	// The raw value survives for a later, compatible declaration
	pb, err := Declare(b, "n", StringCodec)
	require.NoError(t, err)
	v, _, err := pb.Get()
	require.NoError(t, err)
	assert.Equal(t, "abc", v)
}

func TestProperty_UndecodableRemoteValue(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)
	rb := record(b)

	pb, err := Declare(b, "n", IntCodec)
	require.NoError(t, err)
	pa, err := Declare(a, "n", StringCodec)
	require.NoError(t, err)
	require.NoError(t, pa.Set(ctx, "abc"))

	require.NoError(t, b.Refetch(ctx), "a bad value must not stop the refetch")
	assert.Empty(t, rb.Changed())
	require.Len(t, rb.Confirmed(), 1, "the change is still acknowledged")
	assert.Nil(t, rb.Confirmed()[0].Value, "no raw string where an int is declared")

	_, _, err = pb.Get()
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrStore)

	// The next good value heals the cache
	require.NoError(t, a.Refetch(ctx))
	require.NoError(t, pa.Set(ctx, "42"))
	require.NoError(t, b.Refetch(ctx))
	v, ok, err := pb.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestProperty_ConflictWithUndecodableValue(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	b := c.node(StateRunning)

	pa, err := Declare(a, "n", StringCodec)
	require.NoError(t, err)
	pb, err := Declare(b, "n", IntCodec)
	require.NoError(t, err)
	require.NoError(t, pa.Set(ctx, "abc"))

	err = pb.SetIfUnchanged(ctx, 5)
	require.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrStore)

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Equal(t, "n", decodeErr.Property)
	assert.Equal(t, "abc", decodeErr.Value)
}

func TestProperty_DeclarationErrors(t *testing.T) {
	m := newSingleNode(t)

	_, err := Declare(m, "", IntCodec)
	assert.ErrorIs(t, err, ErrEmptyPropertyName)

	_, err = Declare[int](m, "x", nil)
	assert.ErrorIs(t, err, ErrNilCodec)

	p, err := Declare(m, "x", IntCodec)
	require.NoError(t, err)
	assert.Equal(t, "x", p.Name())
	assert.True(t, m.IsDeclared("x"))

	_, err = Declare(m, "x", StringCodec)
	assert.ErrorIs(t, err, ErrAlreadyDeclared)

	assert.ErrorIs(t, m.Undeclare("y"), ErrNotDeclared)
}

func TestProperty_UndeclareInvalidatesHandle(t *testing.T) {
	ctx := context.Background()
	m := newSingleNode(t)
	require.NoError(t, m.InitNode(ctx))

	old, err := Declare(m, "x", IntCodec)
	require.NoError(t, err)
	require.NoError(t, old.Set(ctx, 5))
	require.NoError(t, m.Undeclare("x"))

	_, _, err = old.Get()
	assert.ErrorIs(t, err, ErrNotDeclared)
	assert.ErrorIs(t, old.Set(ctx, 6), ErrNotDeclared)

	fresh, err := Declare(m, "x", IntCodec)
	require.NoError(t, err)
	v, ok, err := fresh.Get()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, v)

	assert.ErrorIs(t, old.Set(ctx, 7), ErrNotDeclared)
}

func TestProperty_SetBeforeInit(t *testing.T) {
	ctx := context.Background()

	single := newSingleNode(t)
	p, err := Declare(single, "x", IntCodec)
	require.NoError(t, err)
	assert.ErrorIs(t, p.Set(ctx, 1), ErrNotInitialized)

	c := newTestCluster(t)
	m := c.manager()
	q, err := Declare(m, "x", IntCodec)
	require.NoError(t, err)
	assert.ErrorIs(t, q.Set(ctx, 1), ErrNotInitialized)
	assert.Empty(t, c.store.PropertyRows())

	_, ok, err := q.Get()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProperty_NotBijective(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)

	lossy := CodecFuncs[float64]{
		EncodeFunc: func(v float64) (string, error) { return strconv.FormatFloat(v, 'f', 1, 64), nil },
		DecodeFunc: func(s string) (float64, error) { return strconv.ParseFloat(s, 64) },
	}
	p, err := Declare[float64](a, "ratio", lossy)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Set(ctx, 0.25), ErrNotBijective)
	assert.Empty(t, c.store.PropertyRows())
	require.NoError(t, p.Set(ctx, 0.5))
	assert.Len(t, c.store.PropertyRows(), 1)
}

func TestProperty_StoreFailureLeavesCache(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	ra := record(a)

	p, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)
	require.NoError(t, p.Set(ctx, 1))
	changedBefore := len(ra.Changed())

	c.store.FailNext("UpdateProperty", errors.New("connection reset"))
	err = p.Set(ctx, 2)
	assert.ErrorIs(t, err, ErrStore)

	v, _, err := p.Get()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Len(t, ra.Changed(), changedBefore)
	assert.Equal(t, "1", c.store.PropertyRows()[0].Value)
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.PropertyWritesTotal.WithLabelValues("error")))
}

func TestProperty_SingleNode(t *testing.T) {
	ctx := context.Background()
	m := newSingleNode(t)
	require.NoError(t, m.InitNode(ctx))
	r := record(m)

	p, err := Declare(m, "mode", StringCodec)
	require.NoError(t, err)

	require.NoError(t, p.Set(ctx, "a"))
	require.NoError(t, p.SetAndWait(ctx, "b"))
	require.NoError(t, p.SetIfUnchanged(ctx, "c"))

	assert.Equal(t, []changedEvent{
		{Name: "mode", Old: nil, New: "a", ByThisNode: true},
		{Name: "mode", Old: "a", New: "b", ByThisNode: true},
		{Name: "mode", Old: "b", New: "c", ByThisNode: true},
	}, r.Changed())
	assert.Equal(t, []confirmedEvent{
		{Name: "mode", Value: "a"},
		{Name: "mode", Value: "b"},
		{Name: "mode", Value: "c"},
	}, r.Confirmed())

	conf, err := p.Confirmed(ctx)
	require.NoError(t, err)
	assert.Nil(t, conf.Pending)
	assert.Equal(t, "c", conf.Value)

	v, ok, err := p.ConfirmedWaiting(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	ok, err = m.AllConfirmed(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProperty_NeverWrittenIsConfirmed(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	c.node(StateRunning)

	p, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)

	conf, err := p.Confirmed(ctx)
	require.NoError(t, err)
	assert.Nil(t, conf.Pending)
	assert.False(t, conf.Present)

	ok, err := a.IsConfirmed(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForConfirmation(t *testing.T) {
	c := newTestCluster(t)
	a := c.node(StateRunning)
	b := c.node(StateRunning)

	p, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)
	require.NoError(t, p.Set(context.Background(), 1))

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.WaitForConfirmation(short, "x"), context.DeadlineExceeded)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = b.Refetch(context.Background())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, ok, err := p.ConfirmedWaiting(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestSetAndWait_Cluster(t *testing.T) {
	c := newTestCluster(t)
	a := c.node(StateRunning)
	b := c.node(StateRunning)

	p, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = b.Refetch(context.Background())
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.SetAndWait(ctx, 9))
	close(stop)
	wg.Wait()

	ok, err := a.IsConfirmed(ctx, "x")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestListeners_PanicIsIsolated(t *testing.T) {
	ctx := context.Background()
	m := newSingleNode(t)
	require.NoError(t, m.InitNode(ctx))

	m.AddListener(&ListenerFuncs{
		Changed:   func(string, any, any, bool) { panic("boom") },
		Confirmed: func(string, any) { panic("boom") },
	})
	r := record(m)

	p, err := Declare(m, "x", IntCodec)
	require.NoError(t, err)
	require.NoError(t, p.Set(ctx, 1))

	assert.Len(t, r.Changed(), 1)
	assert.Len(t, r.Confirmed(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.metrics.ListenerPanicsTotal))
}

func TestListeners_MayCallBack(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)

	p, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)

	var seen []int
	a.AddListener(&ListenerFuncs{
		Changed: func(name string, _, _ any, _ bool) {
			v, _, err := p.Get()
			assert.NoError(t, err)
			seen = append(seen, v)
			_, err = a.IsConfirmed(ctx, name)
			assert.NoError(t, err)
		},
	})

	require.NoError(t, p.Set(ctx, 4))
	assert.Equal(t, []int{4}, seen)
}

func TestListeners_Remove(t *testing.T) {
	ctx := context.Background()
	m := newSingleNode(t)
	require.NoError(t, m.InitNode(ctx))

	first := record(m)
	second := record(m)
	m.RemoveListener(first)
	m.RemoveListener(&recorder{})

	p, err := Declare(m, "x", BoolCodec)
	require.NoError(t, err)
	require.NoError(t, p.Set(ctx, true))

	assert.Empty(t, first.Changed())
	assert.Len(t, second.Changed(), 1)
}

func TestProperties_Snapshot(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()
	a := c.node(StateRunning)
	c.node(StateRunning)

	px, err := Declare(a, "x", IntCodec)
	require.NoError(t, err)
	py, err := Declare(a, "a.y", StringCodec)
	require.NoError(t, err)
	require.NoError(t, px.Set(ctx, 10))
	require.NoError(t, py.Set(ctx, "v"))

	assert.Equal(t, []PropertyInfo{
		{Name: "a.y", Value: "v", Declared: true, Pending: true},
		{Name: "x", Value: "10", Declared: true, Pending: true},
	}, a.Properties())
}

func TestProperty_ConcurrentWritersConverge(t *testing.T) {
	c := newTestCluster(t)
	ctx := context.Background()

	nodes := make([]*Manager, 3)
	props := make([]*Property[string], 3)
	for i := range nodes {
		nodes[i] = c.node(StateRunning)
		p, err := Declare(nodes[i], "leader", StringCodec)
		require.NoError(t, err)
		props[i] = p
	}

	var wg sync.WaitGroup
	for i, p := range props {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 20 {
				assert.NoError(t, p.Set(ctx, fmt.Sprintf("node-%d-%d", i, j)))
				assert.NoError(t, nodes[(i+1)%len(nodes)].Refetch(ctx))
			}
		}()
	}
	wg.Wait()

	for _, m := range nodes {
		require.NoError(t, m.Refetch(ctx))
	}
	want := c.store.PropertyRows()[0].Value
	for _, p := range props {
		v, ok, err := p.Get()
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, want, v)

		conf, err := p.Confirmed(ctx)
		require.NoError(t, err)
		assert.Nil(t, conf.Pending)
		assert.Equal(t, want, conf.Value)
	}
}
