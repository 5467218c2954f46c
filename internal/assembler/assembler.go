// Package assembler implements OutputAssembler: it takes
// the artifacts every upstream stage produced — per-module documentation,
// per-folder summaries, per-SCC shared context, and the planned document
// from PlanPipeline — and renders them into the on-disk deliverables
// names, plus the user-visible run summary. Grounded on
// original_source/layer3/{file_output_writer,output_writer}.py's
// section-concatenation style and
// codegraph/process/orchestrate.go's humanized-duration run reporting.
package assembler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/basegraph-app/docweaver/internal/foldersummary"
	"github.com/basegraph-app/docweaver/internal/graph"
)

// Deliverables is the full set of rendered output files, ready to write
// to OutputDir.
type Deliverables struct {
	Modules string // modules.txt
	Folders string // folders.txt
	SccContexts string // scc_contexts.txt
	Final string // final.md, verbatim from PlanPipeline.Run
}

// FormatModules renders every produced ModuleArtifact, one section per
// module, ordered dependency-first so a reader meets a module's
// dependencies before the module itself.
func FormatModules(artifacts map[graph.ModuleID]graph.ModuleArtifact, order []graph.ModuleID) string {
	var b strings.Builder
	for _, id := range order {
		a, ok := artifacts[id]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "# %s\n\n", id)
		if a.Degraded {
			b.WriteString("_(generated via parse-failure fallback; review manually)_\n\n")
		}
		fmt.Fprintf(&b, "## Summary\n%s\n\n", a.Summary)
		fmt.Fprintf(&b, "## Responsibility\n%s\n\n", a.Responsibility)
		if len(a.KeyFunctions) > 0 {
			b.WriteString("## Key Functions\n")
			for _, kf := range a.KeyFunctions {
				fmt.Fprintf(&b, "- **%s**: %s\n", kf.Name, kf.Purpose)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "## Dependency Usage\n%s\n\n", a.DependencyUsage)
		fmt.Fprintf(&b, "## Exports\n%s\n\n", a.Exports)
	}
	return b.String()
}

// FormatFolders renders every folder summary in bottom-up (deepest
// first) order, matching the order they were produced in.
func FormatFolders(artifacts map[string]foldersummary.Artifact) string {
	ordered := make([]foldersummary.Artifact, 0, len(artifacts))
	for _, a := range artifacts {
		ordered = append(ordered, a)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Depth != ordered[j].Depth {
			return ordered[i].Depth > ordered[j].Depth
		}
		return ordered[i].Path < ordered[j].Path
	})

	var b strings.Builder
	for _, a := range ordered {
		path := a.Path
		if path == "" {
			path = "(root)"
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", path, a.Summary)
	}
	return b.String()
}

// FormatSccContexts renders every non-trivial SCC's shared context,
// numbered in lexicographic SCC id order.
func FormatSccContexts(contexts map[graph.SccID]*graph.SccContext) string {
	ids := make([]string, 0, len(contexts))
	for id := range contexts {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	var b strings.Builder
	for i, id := range ids {
		c := contexts[graph.SccID(id)]
		fmt.Fprintf(&b, "## Cycle %d: %s\n", i+1, id)
		fmt.Fprintf(&b, "Members: %s\n\n", joinModuleIDs(c.MemberIDs))
		b.WriteString(c.Text)
		b.WriteString("\n\n")
	}
	return b.String()
}

func joinModuleIDs(ids []graph.ModuleID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}

// Failure is one module's terminal documentation failure, in the shape
// the run summary reports it.
type Failure struct {
	ModuleID graph.ModuleID
	Reason   string
}

// RunSummary is the user-visible outcome of one full run:
// successfully-documented modules, failed modules with reasons, number
// of SCCs documented, and total wall-clock time.
type RunSummary struct {
	Succeeded []graph.ModuleID
	Failed    []Failure
	SccCount  int
	Elapsed   time.Duration
}

// FormatRunSummary renders the run summary printed to stdout at the end
// of a run.
func FormatRunSummary(s RunSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "docweaver run finished in %s\n", humanizeDuration(s.Elapsed))
	fmt.Fprintf(&b, "  %d modules documented, %d failed, %d cycles documented\n",
		len(s.Succeeded), len(s.Failed), s.SccCount)
	if len(s.Failed) > 0 {
		b.WriteString("  failures:\n")
		for _, f := range s.Failed {
			fmt.Fprintf(&b, "    - %s: %s\n", f.ModuleID, f.Reason)
		}
	}
	return b.String()
}

// humanizeDuration renders a duration the way a human reads it, same
// rounding/part-selection rules as codegraph/process/orchestrate.go's
// helper of the same name.
func humanizeDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Millisecond {
		return d.String()
	}

	d = d.Round(time.Millisecond)
	hours := d / time.Hour
	d -= hours * time.Hour
	minutes := d / time.Minute
	d -= minutes * time.Minute
	seconds := d / time.Second
	d -= seconds * time.Second
	milliseconds := d / time.Millisecond

	var parts []string
	if hours > 0 {
		parts = append(parts, fmt.Sprintf("%dh", hours))
	}
	if minutes > 0 {
		parts = append(parts, fmt.Sprintf("%dm", minutes))
	}
	if seconds > 0 {
		parts = append(parts, fmt.Sprintf("%ds", seconds))
	}
	if milliseconds > 0 && hours == 0 && minutes == 0 && seconds == 0 {
		parts = append(parts, fmt.Sprintf("%dms", milliseconds))
	}
	if len(parts) == 0 {
		return "0s"
	}
	return strings.Join(parts, " ")
}

// WriteAll writes the four deliverables under outputDir, creating it if
// necessary.
func WriteAll(outputDir string, d Deliverables) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", outputDir, err)
	}

	files := map[string]string{
		"modules.txt":      d.Modules,
		"folders.txt":      d.Folders,
		"scc_contexts.txt": d.SccContexts,
		"final.md":         d.Final,
	}
	for name, content := range files {
		path := filepath.Join(outputDir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}
