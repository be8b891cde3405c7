package synthtree

import (
	"fmt"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	g := newTestGraph(t, Options{ArenaSize: 1 << 12, MaxNodes: 8, ArenaSoftLimit: 16})
	grp := mustGroup(t, g, 1, g.Root())
	mustSynth(t, g, 2, grp)

	c := NewCollector(g)
	assert.Equal(t, 13, testutil.CollectAndCount(c))

	expected := fmt.Sprintf(`
# HELP synthtree_nodes_live Live nodes by kind
# TYPE synthtree_nodes_live gauge
synthtree_nodes_live{instance=%[1]q,kind="group"} 2
synthtree_nodes_live{instance=%[1]q,kind="synth"} 1
# HELP synthtree_arena_capacity_bytes Fixed arena capacity in bytes
# TYPE synthtree_arena_capacity_bytes gauge
synthtree_arena_capacity_bytes{instance=%[1]q} 4096
# HELP synthtree_arena_used_bytes Arena bytes held by live blocks
# TYPE synthtree_arena_used_bytes gauge
synthtree_arena_used_bytes{instance=%[1]q} 32
# HELP synthtree_arena_under_pressure 1 when arena usage is above the soft limit
# TYPE synthtree_arena_under_pressure gauge
synthtree_arena_under_pressure{instance=%[1]q} 1
# HELP synthtree_nodes_free_slots Unused node slots
# TYPE synthtree_nodes_free_slots gauge
synthtree_nodes_free_slots{instance=%[1]q} 5
`, g.ID())

	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"synthtree_nodes_live",
		"synthtree_arena_capacity_bytes",
		"synthtree_arena_used_bytes",
		"synthtree_arena_under_pressure",
		"synthtree_nodes_free_slots")
	assert.NoError(t, err)
}

func TestCollectorCounters(t *testing.T) {
	g := newTestGraph(t, Options{MaxNodes: 2})
	c := NewCollector(g)

	n := mustSynth(t, g, 1, g.Root())
	_, err := g.AddSynth(2, testDef, g.Root(), AtTail())
	require.ErrorIs(t, err, ErrOutOfMemory)
	require.NoError(t, g.Free(n))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		if len(mf.GetMetric()) == 1 {
			m := mf.GetMetric()[0]
			if m.GetCounter() != nil {
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}

	assert.Equal(t, 2.0, values["synthtree_nodes_created_total"])
	assert.Equal(t, 1.0, values["synthtree_nodes_destroyed_total"])
	assert.Equal(t, 1.0, values["synthtree_nodes_slot_exhaustion_total"])
	assert.Equal(t, 0.0, values["synthtree_arena_allocation_failures_total"])
}
