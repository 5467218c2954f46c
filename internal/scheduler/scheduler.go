// Package scheduler implements BatchScheduler: it turns a
// DependencyGraph into wavefronts via internal/wavefront and drives one
// ModulePipeline task per module, collecting artifacts and failures
// behind a mutex. Grounded on relay/internal/brain/orchestrator.go's
// result/failure bookkeeping pattern, generalized onto the module-batch
// domain.
package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/modulepipeline"
	"github.com/basegraph-app/docweaver/internal/wavefront"
)

// Failure records one module's terminal error.
type Failure struct {
	ModuleID graph.ModuleID
	Err      error
}

// BatchResult is the aggregate outcome of one full scheduling run.
type BatchResult struct {
	Artifacts map[graph.ModuleID]graph.ModuleArtifact
	Failures  []Failure
}

// Scheduler computes dependency-respecting wavefronts over a
// DependencyGraph and dispatches modulepipeline.Run for each module.
type Scheduler struct {
	Graph     *graph.DependencyGraph
	Semaphore *semaphore.Weighted
	Pipeline  *modulepipeline.Pipeline

	sccContexts map[graph.SccID]*graph.SccContext
}

func New(g *graph.DependencyGraph, sem *semaphore.Weighted, pipeline *modulepipeline.Pipeline) *Scheduler {
	return &Scheduler{Graph: g, Semaphore: sem, Pipeline: pipeline}
}

// Run dispatches every module in the graph, honoring SCC-collapsed
// topological order and wavefront parallelism. Dependency artifacts are
// snapshotted per module at dispatch time from whatever has completed
// so far — intra-wavefront peers are never waited on.
func (s *Scheduler) Run(ctx context.Context) BatchResult {
	nodes := s.buildNodes()

	result := BatchResult{Artifacts: make(map[graph.ModuleID]graph.ModuleArtifact)}
	var mu sync.Mutex

	outcomes := wavefront.Run(ctx, nodes, s.Semaphore, func(ctx context.Context, id graph.ModuleID) error {
		mu.Lock()
		deps := s.snapshotDeps(id, result.Artifacts)
		var sccCtx *graph.SccContext
		if c, ok := s.sccContexts[s.Graph.SccOf(id)]; ok {
			sccCtx = c
		}
		mu.Unlock()

		artifact, err := s.Pipeline.Run(ctx, modulepipeline.Task{
			ModuleID:            id,
			DependencyArtifacts: deps,
			SccContext:          sccCtx,
		})
		if err != nil {
			return err
		}

		mu.Lock()
		result.Artifacts[id] = artifact
		mu.Unlock()
		return nil
	}, func(remaining []graph.ModuleID) {
		slog.WarnContext(ctx, "scheduler: no wavefront could be formed, force-dispatching remainder",
			"remaining", remaining, "count", len(remaining))
	})

	for _, o := range outcomes {
		if o.Err != nil {
			result.Failures = append(result.Failures, Failure{ModuleID: o.ID, Err: o.Err})
		}
	}
	return result
}

// SetSccContexts attaches pre-built SccContexts, keyed by SccID, for
// members to receive during their write phase.
func (s *Scheduler) SetSccContexts(contexts map[graph.SccID]*graph.SccContext) {
	s.sccContexts = contexts
}

func (s *Scheduler) buildNodes() []wavefront.Node[graph.ModuleID] {
	modules := s.Graph.Modules()
	importerCount := make(map[graph.ModuleID]int, len(modules))
	for _, m := range modules {
		for _, dep := range s.Graph.Deps(m) {
			importerCount[dep]++
		}
	}

	nodes := make([]wavefront.Node[graph.ModuleID], 0, len(modules))
	for _, m := range modules {
		nodes = append(nodes, wavefront.Node[graph.ModuleID]{
			ID:   m,
			Deps: localDeps(s.Graph, m, modules),
		})
	}

	// Tie-break rule: ascending import count, descending
	// importer count, lexicographic id, applied globally for a single
	// deterministic dispatch order.
	sort.Slice(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if len(a.Deps) != len(b.Deps) {
			return len(a.Deps) < len(b.Deps)
		}
		if importerCount[a.ID] != importerCount[b.ID] {
			return importerCount[a.ID] > importerCount[b.ID]
		}
		return a.ID < b.ID
	})
	return nodes
}

// localDeps filters a module's dependency list down to in-codebase
// modules, dropping same-SCC members (a module never waits on its own
// cycle) and external packages the graph doesn't know about.
func localDeps(g *graph.DependencyGraph, m graph.ModuleID, known []graph.ModuleID) []graph.ModuleID {
	knownSet := make(map[graph.ModuleID]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	myScc := g.SccOf(m)

	var out []graph.ModuleID
	for _, dep := range g.Deps(m) {
		if !knownSet[dep] {
			continue
		}
		if g.SccOf(dep) == myScc {
			continue
		}
		out = append(out, dep)
	}
	return out
}

func (s *Scheduler) snapshotDeps(m graph.ModuleID, completed map[graph.ModuleID]graph.ModuleArtifact) []graph.ModuleArtifact {
	var out []graph.ModuleArtifact
	for _, dep := range s.Graph.Deps(m) {
		if a, ok := completed[dep]; ok {
			out = append(out, a)
		}
	}
	return out
}
