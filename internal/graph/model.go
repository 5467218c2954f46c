package graph

// SccContext is the shared architectural summary CycleContextBuilder
// produces for one non-trivial SCC. Immutable after
// construction; shared by reference among all members during their
// write phase.
type SccContext struct {
	SccID     SccID
	MemberIDs []ModuleID
	Text      string
}

// ModuleArtifact is the structured documentation record ModulePipeline
// produces exactly once per module. Absence means failure.
type ModuleArtifact struct {
	ModuleID         ModuleID
	Summary          string
	Responsibility   string
	KeyFunctions     []KeyFunction
	DependencyUsage  string
	Exports          string
	Degraded bool // true when produced via the parse-failure fallback
}

// KeyFunction names one function/method the artifact calls out as
// significant, with a one-line purpose.
type KeyFunction struct {
	Name    string
	Purpose string
}
