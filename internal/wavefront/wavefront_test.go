package wavefront

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func TestRun_LinearChainRespectsOrder(t *testing.T) {
	nodes := []Node[string]{
		{ID: "a"},
		{ID: "b", Deps: []string{"a"}},
		{ID: "c", Deps: []string{"b"}},
	}

	var mu sync.Mutex
	var order []string
	exec := func(ctx context.Context, id string) error {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		return nil
	}

	results := Run(context.Background(), nodes, semaphore.NewWeighted(4), exec, nil)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestRun_DiamondCompletesDependenciesFirst(t *testing.T) {
	nodes := []Node[string]{
		{ID: "a"},
		{ID: "b", Deps: []string{"a"}},
		{ID: "c", Deps: []string{"a"}},
		{ID: "d", Deps: []string{"b", "c"}},
	}

	var mu sync.Mutex
	seen := map[string]bool{}
	exec := func(ctx context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		for _, dep := range nodesByID(nodes)[id].Deps {
			if !seen[dep] {
				return fmt.Errorf("dependency %s not completed before %s", dep, id)
			}
		}
		seen[id] = true
		return nil
	}

	results := Run(context.Background(), nodes, semaphore.NewWeighted(4), exec, nil)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	nodes := []Node[string]{
		{ID: "q"},
		{ID: "dependsOnQ", Deps: []string{"q"}},
		{ID: "independent"},
	}
	exec := func(ctx context.Context, id string) error {
		if id == "q" {
			return fmt.Errorf("boom")
		}
		return nil
	}

	results := Run(context.Background(), nodes, semaphore.NewWeighted(4), exec, nil)
	byID := make(map[string]error, len(results))
	for _, r := range results {
		byID[r.ID] = r.Err
	}
	assert.Error(t, byID["q"])
	assert.NoError(t, byID["dependsOnQ"], "a failed dependency must not block its dependent from being dispatched")
	assert.NoError(t, byID["independent"])
}

func TestRun_ForceDispatchOnUnresolvableCycle(t *testing.T) {
	nodes := []Node[string]{
		{ID: "x", Deps: []string{"y"}},
		{ID: "y", Deps: []string{"x"}},
	}

	var forced []string
	exec := func(ctx context.Context, id string) error { return nil }

	results := Run(context.Background(), nodes, semaphore.NewWeighted(4), exec, func(remaining []string) {
		forced = append(forced, remaining...)
	})
	assert.Len(t, results, 2)
	assert.ElementsMatch(t, []string{"x", "y"}, forced)
}

func TestRun_ConcurrencyNeverExceedsSemaphoreSize(t *testing.T) {
	nodes := make([]Node[int], 10)
	for i := range nodes {
		nodes[i] = Node[int]{ID: i}
	}

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	sem := semaphore.NewWeighted(3)
	exec := func(ctx context.Context, id int) error {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	Run(context.Background(), nodes, sem, exec, nil)
	assert.LessOrEqual(t, maxInFlight, 3)
}

func nodesByID(nodes []Node[string]) map[string]Node[string] {
	out := make(map[string]Node[string], len(nodes))
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}
