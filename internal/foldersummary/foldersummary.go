// Package foldersummary implements the FolderSummarizer step in the
// data-flow: module artifacts collected → FolderSummarizer (depth-wise)
// → PlanPipeline. Grounded on
// original_source/layer1/grouper.py:FolderProcessor — bottom-up folder
// discovery, per-folder import metrics, and deepest-first summary
// ordering so a folder's summary can reference its children's already
// generated summaries — adapted here from Python package imports onto
// Go import-path-derived module ids.
package foldersummary

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/internal/graph"
)

// Info is one folder's discovered structure and import metrics, the Go
// analog of grouper.py's FolderInfo dataclass.
type Info struct {
	Path         string
	Depth        int
	Modules      []graph.ModuleID
	ParentPath string // "" for the root
	ChildFolders []string
	ExternalDeps int
	InternalDeps int
	ImportedBy   int
}

// Artifact is one folder's generated summary, ready to feed
// internal/contextresolver's Folders map.
type Artifact struct {
	Path    string
	Summary string
	Depth   int
}

// Build discovers the full folder tree from a DependencyGraph, creating
// every ancestor folder even if it holds no modules directly
// (grouper.py:_ensure_parent_folders).
func Build(g *graph.DependencyGraph) map[string]*Info {
	folders := make(map[string]*Info)

	ensure := func(path string) *Info {
		if f, ok := folders[path]; ok {
			return f
		}
		f := &Info{Path: path, Depth: depthOf(path), ParentPath: parentOf(path)}
		folders[path] = f
		return f
	}

	for _, m := range g.Modules() {
		path := folderOf(g.SourcePath(m))
		f := ensure(path)
		f.Modules = append(f.Modules, m)

		// Walk up to the root, creating every ancestor folder even if it
		// holds no modules of its own (grouper.py:_ensure_parent_folders).
		for child := path; child != ""; child = parentOf(child) {
			parent := parentOf(child)
			pf := ensure(parent)
			if !containsStr(pf.ChildFolders, child) {
				pf.ChildFolders = append(pf.ChildFolders, child)
			}
		}
	}

	computeMetrics(g, folders)
	return folders
}

// BottomUp returns every non-empty folder ordered deepest-first, ties
// broken lexicographically (grouper.py:get_folders_bottom_up).
func BottomUp(folders map[string]*Info) []*Info {
	out := make([]*Info, 0, len(folders))
	for _, f := range folders {
		if len(f.Modules) == 0 {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth > out[j].Depth
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Summarizer produces one LLM-written summary per folder, deepest
// first, so a folder's prompt can quote its children's summaries.
type Summarizer struct {
	Transport llmtransport.Client
	Sem       *semaphore.Weighted
	Tier      llmtransport.Tier
}

func New(transport llmtransport.Client, sem *semaphore.Weighted) *Summarizer {
	return &Summarizer{Transport: transport, Sem: sem, Tier: llmtransport.TierFast}
}

// Run summarizes every folder bottom-up, given each module's already
// produced documentation summary.
func (s *Summarizer) Run(ctx context.Context, folders map[string]*Info, moduleSummaries map[graph.ModuleID]string) (map[string]Artifact, error) {
	results := make(map[string]Artifact, len(folders))

	// Every discovered folder is summarized, including ancestors that hold
	// only subfolders, so each parent's prompt can quote its children.
	ordered := make([]*Info, 0, len(folders))
	for _, f := range folders {
		ordered = append(ordered, f)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Depth != ordered[j].Depth {
			return ordered[i].Depth > ordered[j].Depth
		}
		return ordered[i].Path < ordered[j].Path
	})

	for _, f := range ordered {
		var childSummaries []string
		for _, c := range f.ChildFolders {
			if a, ok := results[c]; ok {
				childSummaries = append(childSummaries, fmt.Sprintf("%s: %s", c, a.Summary))
			}
		}

		var mods []string
		for _, m := range f.Modules {
			if sum, ok := moduleSummaries[m]; ok {
				mods = append(mods, fmt.Sprintf("- %s: %s", m, sum))
			}
		}

		prompt := summaryPrompt(f, mods, childSummaries)

		if err := s.Sem.Acquire(ctx, 1); err != nil {
			return results, fmt.Errorf("acquire semaphore: %w", err)
		}
		resp, err := s.Transport.Complete(ctx, llmtransport.CompleteRequest{
			Tier:         s.Tier,
			SystemPrompt: folderSummarySystemPrompt,
			UserPrompt:   prompt,
		})
		s.Sem.Release(1)
		if err != nil {
			results[f.Path] = Artifact{Path: f.Path, Depth: f.Depth, Summary: ""}
			continue
		}
		results[f.Path] = Artifact{Path: f.Path, Depth: f.Depth, Summary: strings.TrimSpace(resp.Content)}
	}

	return results, nil
}

const folderSummarySystemPrompt = `You are writing a short summary of one folder in a codebase, for a reader who has already read its module and subfolder summaries. Describe the folder's overall responsibility in 2-4 sentences. Do not restate the file listing.`

func summaryPrompt(f *Info, moduleLines, childLines []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Folder: %s\n\n", f.Path)
	if len(moduleLines) > 0 {
		b.WriteString("Modules in this folder:\n")
		b.WriteString(strings.Join(moduleLines, "\n"))
		b.WriteString("\n\n")
	}
	if len(childLines) > 0 {
		b.WriteString("Subfolder summaries:\n")
		b.WriteString(strings.Join(childLines, "\n"))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Imports: %d internal, %d external. Imported by %d other modules.\n", f.InternalDeps, f.ExternalDeps, f.ImportedBy)
	return b.String()
}

func computeMetrics(g *graph.DependencyGraph, folders map[string]*Info) {
	moduleFolder := make(map[graph.ModuleID]string, len(g.Modules()))
	for _, m := range g.Modules() {
		moduleFolder[m] = folderOf(g.SourcePath(m))
	}

	for _, f := range folders {
		external, internal, importers := map[graph.ModuleID]bool{}, map[graph.ModuleID]bool{}, map[graph.ModuleID]bool{}
		for _, m := range f.Modules {
			for _, dep := range g.Deps(m) {
				if moduleFolder[dep] == f.Path {
					internal[dep] = true
				} else {
					external[dep] = true
				}
			}
		}
		for _, other := range g.Modules() {
			for _, dep := range g.Deps(other) {
				if dep == "" {
					continue
				}
				if moduleFolder[dep] == f.Path && moduleFolder[other] != f.Path {
					importers[other] = true
				}
			}
		}
		f.ExternalDeps = len(external)
		f.InternalDeps = len(internal)
		f.ImportedBy = len(importers)
	}
}

func folderOf(sourcePath string) string {
	i := strings.LastIndex(sourcePath, "/")
	if i < 0 {
		return ""
	}
	return sourcePath[:i]
}

func parentOf(path string) string {
	if path == "" {
		return ""
	}
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func depthOf(path string) int {
	if path == "" {
		return 0
	}
	return strings.Count(path, "/") + 1
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
