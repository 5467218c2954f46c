package graph

import "context"

// Analyzer is the external collaborator that supplies the module set,
// per-module dependency set, SCC partition, and source paths. Only its
// contract matters to the orchestrator — the parser's graph-construction
// algorithm itself lives entirely behind this interface.
type Analyzer interface {
	Analyze(ctx context.Context) (*DependencyGraph, error)
}

// Entity describes one function/class/method discovered inside a module,
// used by ModulePipeline's adaptive tools (get_function_details,
// get_class_details) and by CycleContextBuilder's signature-only mode.
type Entity struct {
	Name      string
	Kind string // "function", "method", "type", "interface"
	Doc       string
	Signature string
	Source string // full source including body, when available
	StartLine int
	EndLine   int
}

// EntitySource is implemented by analyzers that can answer entity-level
// queries (as opposed to module-level-only analyzers). Both shipped
// analyzers implement it; a minimal third-party GraphAnalyzer that only
// knows module boundaries would not, and callers degrade gracefully.
type EntitySource interface {
	Entities(ctx context.Context, m ModuleID) ([]Entity, error)
	Exports(ctx context.Context, m ModuleID) ([]Entity, error)
}
