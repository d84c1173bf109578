package cluster

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

const orderingNodes = 3

// TestProperty_ChangesAreSeenInStoreOrder writes increasing values from
// random nodes and lets random nodes refetch in between. Every node must see
// the values of its own and its peers' writes in increasing order, and all
// nodes must end up with the last value.
func TestProperty_ChangesAreSeenInStoreOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	// An op below orderingNodes is a write by that node, the rest a
	// refetch by node op-orderingNodes
	properties.Property("observed values strictly increase", prop.ForAll(
		func(ops []int) bool {
			ctx := context.Background()
			c := newTestCluster(t)

			nodes := make([]*Manager, orderingNodes)
			props := make([]*Property[int64], orderingNodes)
			seen := make([][]int64, orderingNodes)
			for i := range nodes {
				nodes[i] = c.node(StateRunning)
				p, err := Declare(nodes[i], "counter", Int64Codec)
				if err != nil {
					return false
				}
				props[i] = p
				nodes[i].AddListener(&ListenerFuncs{
					Changed: func(_ string, _, newValue any, _ bool) {
						seen[i] = append(seen[i], newValue.(int64))
					},
				})
			}

			var next int64
			for _, op := range ops {
				if op < orderingNodes {
					next++
					if err := props[op].Set(ctx, next); err != nil {
						return false
					}
					continue
				}
				if err := nodes[op-orderingNodes].Refetch(ctx); err != nil {
					return false
				}
			}

			for i, m := range nodes {
				if err := m.Refetch(ctx); err != nil {
					return false
				}
				for j := 1; j < len(seen[i]); j++ {
					if seen[i][j] <= seen[i][j-1] {
						return false
					}
				}
				if next == 0 {
					continue
				}
				v, ok, err := props[i].Get()
				if err != nil || !ok || v != next {
					return false
				}
				if seen[i][len(seen[i])-1] != next {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(40, gen.IntRange(0, 2*orderingNodes-1)),
	))

	properties.TestingRun(t)
}
