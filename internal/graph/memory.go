package graph

import "context"

// MemoryAnalyzer is an in-memory Analyzer used by tests and by
// recorder/replayer fakes: production, mock, and recorder-replayer
// variants are all concrete implementations of the same Analyzer
// interface.
type MemoryAnalyzer struct {
	modules  []Module
	entities map[ModuleID][]Entity
}

// NewMemoryAnalyzer builds a MemoryAnalyzer from an explicit module list.
func NewMemoryAnalyzer(modules []Module) *MemoryAnalyzer {
	return &MemoryAnalyzer{modules: modules, entities: make(map[ModuleID][]Entity)}
}

// WithEntities attaches entity data for a module, enabling the
// EntitySource-backed adaptive tools in tests.
func (a *MemoryAnalyzer) WithEntities(m ModuleID, entities []Entity) *MemoryAnalyzer {
	a.entities[m] = entities
	return a
}

func (a *MemoryAnalyzer) Analyze(ctx context.Context) (*DependencyGraph, error) {
	return Build(a.modules), nil
}

func (a *MemoryAnalyzer) Entities(ctx context.Context, m ModuleID) ([]Entity, error) {
	return a.entities[m], nil
}

func (a *MemoryAnalyzer) Exports(ctx context.Context, m ModuleID) ([]Entity, error) {
	all := a.entities[m]
	exported := make([]Entity, 0, len(all))
	for _, e := range all {
		if len(e.Name) > 0 && e.Name[0] >= 'A' && e.Name[0] <= 'Z' {
			exported = append(exported, e)
		}
	}
	return exported, nil
}

var (
	_ Analyzer     = (*MemoryAnalyzer)(nil)
	_ EntitySource = (*MemoryAnalyzer)(nil)
)
