package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_LinearChain(t *testing.T) {
	modules := []Module{
		{ID: "a", Imports: []ModuleID{"b"}},
		{ID: "b", Imports: []ModuleID{"c"}},
		{ID: "c"},
	}
	g := Build(modules)

	order := g.TopoOrderIndependentFirst()
	require.Equal(t, []ModuleID{"c", "b", "a"}, order)

	assert.Equal(t, SccID("a"), g.SccOf("a"))
	assert.Equal(t, SccID("b"), g.SccOf("b"))
	assert.Equal(t, SccID("c"), g.SccOf("c"))
	assert.Len(t, g.AllSccs(), 3)
}

func TestBuild_Diamond(t *testing.T) {
	modules := []Module{
		{ID: "top", Imports: []ModuleID{"left", "right"}},
		{ID: "left", Imports: []ModuleID{"bottom"}},
		{ID: "right", Imports: []ModuleID{"bottom"}},
		{ID: "bottom"},
	}
	g := Build(modules)

	order := g.TopoOrderIndependentFirst()
	pos := make(map[ModuleID]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["bottom"], pos["left"])
	assert.Less(t, pos["bottom"], pos["right"])
	assert.Less(t, pos["left"], pos["top"])
	assert.Less(t, pos["right"], pos["top"])
}

func TestBuild_CycleOfTwo(t *testing.T) {
	modules := []Module{
		{ID: "a", Imports: []ModuleID{"b"}},
		{ID: "b", Imports: []ModuleID{"a"}},
		{ID: "c", Imports: []ModuleID{"a"}},
	}
	g := Build(modules)

	sccA := g.SccOf("a")
	sccB := g.SccOf("b")
	require.Equal(t, sccA, sccB)
	assert.ElementsMatch(t, []ModuleID{"a", "b"}, g.MembersOf(sccA))

	// c depends on the cycle, so the cycle's SCC must precede c's in the
	// wavefront order.
	sccs := g.AllSccs()
	sccPos := make(map[SccID]int, len(sccs))
	for i, s := range sccs {
		sccPos[s] = i
	}
	assert.Less(t, sccPos[sccA], sccPos[g.SccOf("c")])
}

func TestBuild_LargeCycle(t *testing.T) {
	const n = 20
	modules := make([]Module, n)
	for i := 0; i < n; i++ {
		id := ModuleID(rune('a' + i))
		next := ModuleID(rune('a' + (i+1)%n))
		modules[i] = Module{ID: id, Imports: []ModuleID{next}}
	}
	g := Build(modules)

	scc := g.SccOf(modules[0].ID)
	members := g.MembersOf(scc)
	assert.Len(t, members, n)
	for _, m := range modules {
		assert.Equal(t, scc, g.SccOf(m.ID))
	}
	assert.Len(t, g.AllSccs(), 1)
}

func TestBuild_Deterministic(t *testing.T) {
	modules := []Module{
		{ID: "a", Imports: []ModuleID{"b", "c"}},
		{ID: "b", Imports: []ModuleID{"d"}},
		{ID: "c", Imports: []ModuleID{"d"}},
		{ID: "d"},
	}

	first := Build(modules).TopoOrderIndependentFirst()
	for i := 0; i < 10; i++ {
		again := Build(modules).TopoOrderIndependentFirst()
		assert.Equal(t, first, again)
	}
}

func TestMemoryAnalyzer_ExportsFiltersUnexported(t *testing.T) {
	a := NewMemoryAnalyzer([]Module{{ID: "pkg"}}).WithEntities("pkg", []Entity{
		{Name: "Public", Kind: "function"},
		{Name: "private", Kind: "function"},
	})

	exports, err := a.Exports(context.Background(), "pkg")
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, "Public", exports[0].Name)
}

func TestMemoryAnalyzer_AnalyzeMatchesBuild(t *testing.T) {
	modules := []Module{
		{ID: "a", Imports: []ModuleID{"b"}},
		{ID: "b"},
	}
	a := NewMemoryAnalyzer(modules)
	g, err := a.Analyze(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModuleID{"b", "a"}, g.TopoOrderIndependentFirst())
}
