// Package graph implements DependencyGraph data model and
// the GraphAnalyzer external collaborator: resolving the import
// graph and collapsing cycles into strongly connected components is the
// one piece of "core" algorithmic work this package owns outright — no
// pack library does cycle detection for an arbitrary import graph, so
// Tarjan's algorithm is implemented directly.
package graph

import "sort"

// ModuleID is a deterministic, totally-ordered identifier derived from a
// module's import path. It is never generated (snowflake, uuid) — two
// runs over an unchanged tree must produce identical ModuleIDs.
type ModuleID string

// SccID identifies a strongly connected component. Every ModuleID belongs
// to exactly one SccID, including trivial (singleton) SCCs.
type SccID string

// Module describes one source unit as supplied by a GraphAnalyzer.
type Module struct {
	ID         ModuleID
	SourcePath string // directory or file backing this module
	Imports    []ModuleID
}

// DependencyGraph is the read-only view ModulePipeline, BatchScheduler,
// and CycleContextBuilder consume. It is built once per run by a
// GraphAnalyzer and never mutated afterward.
type DependencyGraph struct {
	modules map[ModuleID]Module
	sccOf   map[ModuleID]SccID
	members map[SccID][]ModuleID
	sccs []SccID // topological order, independent-first, SCCs collapsed
	order   []ModuleID
}

// Build computes SCCs (Tarjan) and a topological order over the
// collapsed SCC graph, independent-first, from a raw module set. It is
// the shared construction path every GraphAnalyzer implementation
// (MemoryAnalyzer, StaticAnalyzer) funnels through, so the cycle-handling
// invariants only need to be proven once.
func Build(modules []Module) *DependencyGraph {
	byID := make(map[ModuleID]Module, len(modules))
	for _, m := range modules {
		byID[m.ID] = m
	}

	t := newTarjan(byID)
	t.run()

	g := &DependencyGraph{
		modules: byID,
		sccOf:   t.sccOf,
		members: t.members,
	}
	g.sccs = topoSortSccs(byID, t.sccOf, t.members)
	g.order = flattenOrder(g.sccs, t.members)
	return g
}

// Deps returns the ids m imports, in the order the analyzer supplied.
func (g *DependencyGraph) Deps(m ModuleID) []ModuleID {
	return append([]ModuleID(nil), g.modules[m].Imports...)
}

// SccOf returns the strongly connected component m belongs to.
func (g *DependencyGraph) SccOf(m ModuleID) SccID {
	return g.sccOf[m]
}

// AllSccs returns every SCC id, independent-first topological order.
func (g *DependencyGraph) AllSccs() []SccID {
	return append([]SccID(nil), g.sccs...)
}

// MembersOf returns the modules belonging to an SCC.
func (g *DependencyGraph) MembersOf(scc SccID) []ModuleID {
	return append([]ModuleID(nil), g.members[scc]...)
}

// Modules returns every module id known to the graph.
func (g *DependencyGraph) Modules() []ModuleID {
	out := make([]ModuleID, 0, len(g.modules))
	for id := range g.modules {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SourcePath returns the source location backing m.
func (g *DependencyGraph) SourcePath(m ModuleID) string {
	return g.modules[m].SourcePath
}

// TopoOrderIndependentFirst returns every module id ordered so that a
// module always appears after its out-of-SCC dependencies, with SCC
// members adjacent in lexicographic id order. The dispatch tie-break
// rule is applied separately by internal/scheduler.
func (g *DependencyGraph) TopoOrderIndependentFirst() []ModuleID {
	return append([]ModuleID(nil), g.order...)
}

// --- Tarjan's strongly connected components -------------------------------

type tarjan struct {
	modules map[ModuleID]Module
	index   map[ModuleID]int
	lowlink map[ModuleID]int
	onStack map[ModuleID]bool
	stack   []ModuleID
	counter int

	sccOf   map[ModuleID]SccID
	members map[SccID][]ModuleID
	sccSeq  int
}

func newTarjan(modules map[ModuleID]Module) *tarjan {
	return &tarjan{
		modules: modules,
		index:   make(map[ModuleID]int),
		lowlink: make(map[ModuleID]int),
		onStack: make(map[ModuleID]bool),
		sccOf:   make(map[ModuleID]SccID),
		members: make(map[SccID][]ModuleID),
	}
}

func (t *tarjan) run() {
	// Deterministic traversal order so equal-weight graphs always collapse
	// cycles the same way across runs.
	ids := make([]ModuleID, 0, len(t.modules))
	for id := range t.modules {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if _, seen := t.index[id]; !seen {
			t.strongConnect(id)
		}
	}
}

func (t *tarjan) strongConnect(v ModuleID) {
	t.index[v] = t.counter
	t.lowlink[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	deps := append([]ModuleID(nil), t.modules[v].Imports...)
	sort.Slice(deps, func(i, j int) bool { return deps[i] < deps[j] })

	for _, w := range deps {
		if _, known := t.modules[w]; !known {
			continue // external dependency, not part of this graph
		}
		if _, seen := t.index[w]; !seen {
			t.strongConnect(w)
			if t.lowlink[w] < t.lowlink[v] {
				t.lowlink[v] = t.lowlink[w]
			}
		} else if t.onStack[w] {
			if t.index[w] < t.lowlink[v] {
				t.lowlink[v] = t.index[w]
			}
		}
	}

	if t.lowlink[v] == t.index[v] {
		sccID:= SccID(v) // singleton id defaults to the root module's own id
		var group []ModuleID
		for {
			n := len(t.stack) - 1
			w := t.stack[n]
			t.stack = t.stack[:n]
			t.onStack[w] = false
			group = append(group, w)
			if w == v {
				break
			}
		}
		sort.Slice(group, func(i, j int) bool { return group[i] < group[j] })
		if len(group) > 1 {
			// Multi-member SCC id is stable but distinguishable from any
			// single module id: prefix avoids collision with a module
			// literally named after the lexicographically smallest member.
			sccID = SccID("scc:" + string(group[0]))
		}
		t.members[sccID] = group
		for _, m := range group {
			t.sccOf[m] = sccID
		}
	}
}

// topoSortSccs computes a topological order over the SCC-collapsed graph,
// independent-first (no dependencies first), breaking ties
// lexicographically on SCC id for determinism.
func topoSortSccs(modules map[ModuleID]Module, sccOf map[ModuleID]SccID, members map[SccID][]ModuleID) []SccID {
	sccDeps := make(map[SccID]map[SccID]bool)
	for id, m := range modules {
		from := sccOf[id]
		if sccDeps[from] == nil {
			sccDeps[from] = make(map[SccID]bool)
		}
		for _, dep := range m.Imports {
			to, known := sccOf[dep]
			if !known || to == from {
				continue
			}
			sccDeps[from][to] = true
		}
	}

	indegree := make(map[SccID]int)
	for scc := range members {
		indegree[scc] = 0
	}
	for _, deps := range sccDeps {
		for to := range deps {
			indegree[to]++
		}
	}

	// Invert: we want "independent first", i.e. a node with no
	// dependencies left should be emittable once all of ITS dependencies
	// are emitted, so we do a Kahn's-algorithm pass on the dependency
	// direction directly (process nodes whose deps are already emitted).
	remaining := make(map[SccID]map[SccID]bool, len(sccDeps))
	for k, v := range sccDeps {
		cp := make(map[SccID]bool, len(v))
		for x := range v {
			cp[x] = true
		}
		remaining[k] = cp
	}

	var order []SccID
	emitted := make(map[SccID]bool)
	for len(order) < len(members) {
		var ready []SccID
		for scc := range members {
			if emitted[scc] {
				continue
			}
			allDepsEmitted := true
			for dep := range remaining[scc] {
				if !emitted[dep] {
					allDepsEmitted = false
					break
				}
			}
			if allDepsEmitted {
				ready = append(ready, scc)
			}
		}
		if len(ready) == 0 {
			// Should not happen: SCC-collapsed graph is always acyclic.
			// Fall back to remaining ids in lexicographic order so
			// construction never hangs on an analyzer bug.
			for scc := range members {
				if !emitted[scc] {
					ready = append(ready, scc)
				}
			}
		}
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		for _, scc := range ready {
			order = append(order, scc)
			emitted[scc] = true
		}
	}
	return order
}

func flattenOrder(sccs []SccID, members map[SccID][]ModuleID) []ModuleID {
	var out []ModuleID
	for _, scc := range sccs {
		out = append(out, members[scc]...)
	}
	return out
}
