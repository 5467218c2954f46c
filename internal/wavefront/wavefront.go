// Package wavefront implements the dependency-respecting layered
// scheduling algorithm shared by BatchScheduler (over modules) and
// PlanPipeline's section execution (over the section DAG): repeatedly
// form the set of still-unprocessed nodes whose dependencies are all
// complete, dispatch that wavefront concurrently under a bounded
// semaphore, and only advance once it fully drains. Grounded on the
// counting-semaphore + errgroup fan-out idiom
// (relay/internal/brain/orchestrator.go uses the same combination for
// bounded concurrent engagement processing).
package wavefront

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Node is one schedulable unit: a module or a plan section.
type Node[ID comparable] struct {
	ID   ID
	Deps []ID // local (in-graph) dependencies only; external ids are ignored
}

// Result captures one node's outcome so the caller can aggregate success
// and failure without panicking the batch: one node's failure never
// cancels another's.
type Result[ID comparable] struct {
	ID  ID
	Err error
}

// Run computes wavefronts over nodes and invokes exec for every node in
// a wavefront concurrently, bounded by sem. It waits for a wavefront to
// fully drain before advancing to the next. Nodes whose dependencies
// never complete (because they failed) are still dispatched — a failed
// dependency means fewer upstream artifacts, not a blocked dependent.
//
// If no wavefront can be formed while nodes remain (a cycle the caller
// forgot to collapse, or a GraphAnalyzer bug), the remainder is force-
// dispatched as one final wavefront and a warning is logged by the
// caller-supplied onForceDispatch hook.
func Run[ID comparable](
	ctx context.Context,
	nodes []Node[ID],
	sem *semaphore.Weighted,
	exec func(ctx context.Context, id ID) error,
	onForceDispatch func(remaining []ID),
) []Result[ID] {
	byID := make(map[ID]Node[ID], len(nodes))
	order := make([]ID, 0, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
		order = append(order, n.ID)
	}

	completed := make(map[ID]bool, len(nodes))
	var results []Result[ID]

	for len(completed) < len(nodes) {
		wave := nextWavefront(order, byID, completed)
		if len(wave) == 0 {
			wave = remaining(order, completed)
			if onForceDispatch != nil {
				onForceDispatch(wave)
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		waveResults := make([]Result[ID], len(wave))
		for i, id := range wave {
			i, id := i, id
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					waveResults[i] = Result[ID]{ID: id, Err: fmt.Errorf("acquire semaphore: %w", err)}
					return nil
				}
				defer sem.Release(1)

				err := exec(gctx, id)
				waveResults[i] = Result[ID]{ID: id, Err: err}
				return nil
			})
		}
		_ = g.Wait() // exec errors are captured per-node, never propagated as a batch failure

		for _, r := range waveResults {
			completed[r.ID] = true
			results = append(results, r)
		}
	}

	return results
}

// nextWavefront returns every not-yet-completed node whose local
// dependencies are all in completed, in the order the nodes were passed
// to Run.
func nextWavefront[ID comparable](order []ID, byID map[ID]Node[ID], completed map[ID]bool) []ID {
	var wave []ID
	for _, id := range order {
		if completed[id] {
			continue
		}
		ready := true
		for _, dep := range byID[id].Deps {
			if _, known := byID[dep]; known && !completed[dep] {
				ready = false
				break
			}
		}
		if ready {
			wave = append(wave, id)
		}
	}
	return wave
}

func remaining[ID comparable](order []ID, completed map[ID]bool) []ID {
	var out []ID
	for _, id := range order {
		if !completed[id] {
			out = append(out, id)
		}
	}
	return out
}

// SortByKey is a convenience for callers that want deterministic wave
// iteration order by some derived tie-breaking key.
func SortByKey[ID comparable, K int | string](ids []ID, key func(ID) K) []ID {
	out := append([]ID(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return key(out[i]) < key(out[j]) })
	return out
}
