// Package contextresolver implements ContextResolver:
// translating a section's symbolic context references into bounded
// text. Grounded on
// original_source/layer2/plan_pipeline/executor.py:gather_section_context,
// which defines the exact prefixed vocabulary, the legacy fallback
// chain, and the auto-injected summary header this package reproduces
// in Go.
package contextresolver

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/basegraph-app/docweaver/internal/graph"
)

const (
	sourceTruncateChars  = 8000
	apiTruncateChars     = 20000
	configTruncateChars  = 3000
	folderTruncateChars  = 1000
	sectionTruncateChars = 1500
)

// FolderSummary is one node of the bottom-up folder tree (internal/foldersummary).
type FolderSummary struct {
	Path     string
	Summary  string
	Depth    int
	Children []string
}

// Data is every static input a Resolver consults. It is held by
// reference and never mutated mid-run — resolution is a pure function
// of Data plus the caller-supplied generated-sections map.
type Data struct {
	Graph           *graph.DependencyGraph
	Entities        graph.EntitySource
	ModuleArtifacts map[graph.ModuleID]graph.ModuleArtifact
	Folders         map[string]FolderSummary
	Configs         ConfigSource
	EntryPoints     []graph.ModuleID
	ProjectTree     string
}

// ConfigSource looks up raw config file content by name, grounded on
// original_source/layer1/config_reader.py:ConfigFileReader.
type ConfigSource interface {
	FileContent(name string) (string, bool)
	AllConfigFiles() []string
	DependencyManifests() []string
}

// Resolver resolves one section's contextRefs into a single bounded block.
type Resolver struct {
	Data Data
}

func New(data Data) *Resolver {
	return &Resolver{Data: data}
}

// Section is the subset of Section the resolver needs.
type Section struct {
	ID         string
	Style      string
	ContextRefs []string
	DependsOn  []string
}

// Resolve produces the bounded context block for one section, honoring
// five rules in order: per-ref labeled blocks in reference order,
// stable truncation, legacy best-effort fallback, tutorial entry-point
// safety net, and automatic dependsOn inclusion.
func (r *Resolver) Resolve(ctx context.Context, section Section, generated map[string]string) string {
	var parts []string

	for _, ref := range section.ContextRefs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		if block := r.resolveOne(ctx, ref, section, generated); block != "" {
			parts = append(parts, block)
		}
	}

	for _, depID := range section.DependsOn {
		if content, ok := generated[depID]; ok {
			parts = append(parts, fmt.Sprintf("## From: %s\n%s\n", depID, truncate(content, sectionTruncateChars)))
		}
	}

	body := strings.Join(parts, "\n")

	if isTutorial(section) && !strings.Contains(body, "## Source") && !strings.Contains(body, "## Entry Point") {
		for _, ep := range r.Data.EntryPoints {
			if src := r.readSource(ctx, ep); src != "" {
				parts = append(parts, fmt.Sprintf("## Entry Point: %s\n```\n%s\n```\n", ep, truncate(src, sourceTruncateChars)))
			}
		}
		body = strings.Join(parts, "\n")
	}

	return summaryHeader(body) + body
}

func (r *Resolver) resolveOne(ctx context.Context, ref string, section Section, generated map[string]string) string {
	switch {
	case strings.HasPrefix(ref, "folder:"):
		return r.resolveFolder(strings.TrimPrefix(ref, "folder:"))
	case strings.HasPrefix(ref, "module:"):
		return r.resolveModule(strings.TrimPrefix(ref, "module:"))
	case strings.HasPrefix(ref, "source:"):
		return r.resolveSource(ctx, strings.TrimPrefix(ref, "source:"))
	case strings.HasPrefix(ref, "api:"):
		return r.resolveAPI(ctx, strings.TrimPrefix(ref, "api:"))
	case strings.HasPrefix(ref, "config:"):
		return r.resolveConfig(strings.TrimPrefix(ref, "config:"))
	case strings.HasPrefix(ref, "section:"):
		id := strings.TrimPrefix(ref, "section:")
		if content, ok := generated[id]; ok {
			return fmt.Sprintf("## Reference: %s\n%s\n", id, truncate(content, sectionTruncateChars))
		}
		return ""
	case ref == "tree":
		return fmt.Sprintf("## Project Structure\n%s\n", r.Data.ProjectTree)
	case ref == "all_folders":
		return r.resolveAllFolders()
	case ref == "entry_points":
		return r.resolveEntryPoints(ctx)
	case ref == "configs":
		return r.resolveConfigs()
	case ref == "deps":
		return r.resolveDeps()
	default:
		return r.resolveLegacy(ctx, ref)
	}
}

func (r *Resolver) resolveFolder(path string) string {
	f, ok := r.Data.Folders[path]
	if !ok {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "## Folder: %s\n%s\n", path, f.Summary)
	for i, child := range f.Children {
		if i >= 5 {
			break
		}
		if cf, ok := r.Data.Folders[child]; ok {
			fmt.Fprintf(&b, "### Subfolder: %s\n%s\n", child, truncate(cf.Summary, 600))
		}
	}
	return b.String()
}

func (r *Resolver) resolveModule(moduleName string) string {
	id, art, ok := r.findModuleArtifact(moduleName)
	if !ok {
		return ""
	}
	return fmt.Sprintf("## Module: %s\n%s\n", id, art.Summary)
}

func (r *Resolver) resolveSource(ctx context.Context, moduleName string) string {
	src := r.readSource(ctx, graph.ModuleID(moduleName))
	if src == "" {
		return ""
	}
	return fmt.Sprintf("## Source Code: %s\n```\n%s\n```\n", moduleName, truncate(src, sourceTruncateChars))
}

func (r *Resolver) resolveAPI(ctx context.Context, moduleName string) string {
	if r.Data.Entities == nil {
		return ""
	}
	exports, err := r.Data.Entities.Exports(ctx, graph.ModuleID(moduleName))
	if err != nil || len(exports) == 0 {
		return ""
	}
	var sigs []string
	for _, e := range exports {
		sigs = append(sigs, e.Signature)
	}
	return fmt.Sprintf("## Public API: %s\n```\n%s\n```\n", moduleName, truncate(strings.Join(sigs, "\n"), apiTruncateChars))
}

func (r *Resolver) resolveConfig(filename string) string {
	if r.Data.Configs == nil {
		return ""
	}
	content, ok := r.Data.Configs.FileContent(filename)
	if !ok {
		return ""
	}
	return fmt.Sprintf("## Config: %s\n```\n%s\n```\n", filename, truncate(content, configTruncateChars))
}

func (r *Resolver) resolveAllFolders() string {
	var paths []string
	for p := range r.Data.Folders {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		return r.Data.Folders[paths[i]].Depth < r.Data.Folders[paths[j]].Depth
	})
	var b strings.Builder
	for _, p := range paths {
		f := r.Data.Folders[p]
		fmt.Fprintf(&b, "%s## Folder: %s\n%s\n", strings.Repeat("  ", f.Depth), p, truncate(f.Summary, folderTruncateChars))
	}
	return b.String()
}

func (r *Resolver) resolveEntryPoints(ctx context.Context) string {
	var b strings.Builder
	for _, ep := range r.Data.EntryPoints {
		if src := r.readSource(ctx, ep); src != "" {
			fmt.Fprintf(&b, "## Entry Point: %s\n```\n%s\n```\n", ep, truncate(src, 6000))
		}
	}
	return b.String()
}

func (r *Resolver) resolveConfigs() string {
	if r.Data.Configs == nil {
		return ""
	}
	var b strings.Builder
	for i, name := range r.Data.Configs.AllConfigFiles() {
		if i >= 8 {
			break
		}
		if content, ok := r.Data.Configs.FileContent(name); ok {
			fmt.Fprintf(&b, "## %s\n```\n%s\n```\n", name, truncate(content, 1200))
		}
	}
	return b.String()
}

func (r *Resolver) resolveDeps() string {
	if r.Data.Configs == nil {
		return ""
	}
	var b strings.Builder
	for _, name := range r.Data.Configs.DependencyManifests() {
		if content, ok := r.Data.Configs.FileContent(name); ok {
			fmt.Fprintf(&b, "## %s\n```\n%s\n```\n", name, truncate(content, 2500))
		}
	}
	return b.String()
}

// resolveLegacy implements the best-effort chain for unprefixed refs:
// exact match -> suffix match -> basename -> fail-silent.
func (r *Resolver) resolveLegacy(ctx context.Context, ref string) string {
	if id, art, ok := r.findModuleArtifact(ref); ok {
		return fmt.Sprintf("## Module: %s\n%s\n", id, art.Summary)
	}
	if src := r.readSource(ctx, graph.ModuleID(ref)); src != "" {
		return fmt.Sprintf("## Source: %s\n```\n%s\n```\n", ref, truncate(src, sourceTruncateChars))
	}
	if f, ok := r.Data.Folders[ref]; ok {
		return fmt.Sprintf("## Folder: %s\n%s\n", ref, f.Summary)
	}
	if r.Data.Configs != nil {
		if content, ok := r.Data.Configs.FileContent(ref); ok {
			return fmt.Sprintf("## %s\n```\n%s\n```\n", ref, truncate(content, configTruncateChars))
		}
		basename := ref
		if i := strings.LastIndex(ref, "/"); i >= 0 {
			basename = ref[i+1:]
		}
		if content, ok := r.Data.Configs.FileContent(basename); ok {
			return fmt.Sprintf("## %s\n```\n%s\n```\n", ref, truncate(content, configTruncateChars))
		}
	}
	return ""
}

func (r *Resolver) findModuleArtifact(name string) (graph.ModuleID, graph.ModuleArtifact, bool) {
	if art, ok := r.Data.ModuleArtifacts[graph.ModuleID(name)]; ok {
		return graph.ModuleID(name), art, true
	}
	for id, art := range r.Data.ModuleArtifacts {
		if strings.HasSuffix(string(id), name) {
			return id, art, true
		}
	}
	return "", graph.ModuleArtifact{}, false
}

func (r *Resolver) readSource(ctx context.Context, moduleID graph.ModuleID) string {
	if r.Data.Entities == nil {
		return ""
	}
	entities, err := r.Data.Entities.Entities(ctx, moduleID)
	if err != nil || len(entities) == 0 {
		return ""
	}
	var b strings.Builder
	for _, e := range entities {
		b.WriteString(e.Source)
		b.WriteString("\n\n")
	}
	return b.String()
}

func isTutorial(section Section) bool {
	style := strings.ToLower(section.Style)
	id := strings.ToLower(section.ID)
	return style == "tutorial" || style == "quickstart" || strings.Contains(id, "quickstart") || strings.Contains(id, "quick")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + fmt.Sprintf("\n... [truncated at %d chars]", max)
}

func summaryHeader(body string) string {
	var present []string
	if strings.Contains(body, "```") {
		present = append(present, "SOURCE CODE")
	}
	if strings.Contains(body, "## Public API") {
		present = append(present, "API SIGNATURES")
	}
	if strings.Contains(body, "## Config") || strings.Contains(body, "## Folder") {
		if strings.Contains(body, "## Config") {
			present = append(present, "CONFIG FILES")
		}
	}
	if strings.Contains(body, "## Folder") {
		present = append(present, "FOLDER DOCS")
	}
	if len(present) == 0 {
		return "[Context includes: MINIMAL/NO SPECIFIC DATA]\n\n"
	}
	return fmt.Sprintf("[Context includes: %s]\n\n", strings.Join(present, ", "))
}
