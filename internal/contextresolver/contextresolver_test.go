package contextresolver

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basegraph-app/docweaver/internal/graph"
)

type fakeConfigs struct {
	files map[string]string
	deps  []string
}

func (f *fakeConfigs) FileContent(name string) (string, bool) {
	c, ok := f.files[name]
	return c, ok
}

func (f *fakeConfigs) AllConfigFiles() []string {
	var out []string
	for k := range f.files {
		out = append(out, k)
	}
	return out
}

func (f *fakeConfigs) DependencyManifests() []string {
	return f.deps
}

func baseData() Data {
	entities := graph.NewMemoryAnalyzer([]graph.Module{
		{ID: "app/widget"},
	}).WithEntities("app/widget", []graph.Entity{
		{Name: "Parse", Kind: "func", Signature: "func Parse(s string) (*Widget, error)", Source: "func Parse(s string) (*Widget, error) { return nil, nil }"},
	})

	return Data{
		Entities: entities,
		ModuleArtifacts: map[graph.ModuleID]graph.ModuleArtifact{
			"app/widget": {ModuleID: "app/widget", Summary: "parses widgets from text"},
		},
		Folders: map[string]FolderSummary{
			"app": {Path: "app", Summary: "top-level application code", Depth: 0, Children: []string{"app/widget"}},
		},
		Configs: &fakeConfigs{
			files: map[string]string{"go.mod": "module example.com/app\n", "config.yaml": "debug: true\n"},
			deps:  []string{"go.mod"},
		},
		EntryPoints: []graph.ModuleID{"app/widget"},
		ProjectTree: "app/\n  widget/\n",
	}
}

func TestResolve_ModulePrefix(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"module:app/widget"}}, nil)
	assert.Contains(t, out, "parses widgets from text")
}

func TestResolve_SourcePrefix(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"source:app/widget"}}, nil)
	assert.Contains(t, out, "func Parse")
	assert.Contains(t, out, "SOURCE CODE")
}

func TestResolve_APIPrefix(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"api:app/widget"}}, nil)
	assert.Contains(t, out, "func Parse(s string)")
}

func TestResolve_ConfigPrefix(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"config:go.mod"}}, nil)
	assert.Contains(t, out, "module example.com/app")
}

func TestResolve_FolderKeyword(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"all_folders"}}, nil)
	assert.Contains(t, out, "top-level application code")
	assert.Contains(t, out, "FOLDER DOCS")
}

func TestResolve_TreeKeyword(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"tree"}}, nil)
	assert.Contains(t, out, "widget/")
}

func TestResolve_LegacyFallback_BasenameMatch(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"some/dir/go.mod"}}, nil)
	assert.Contains(t, out, "module example.com/app")
}

func TestResolve_UnknownRef_FailsSilently(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"nonexistent:thing"}}, nil)
	assert.Contains(t, out, "[Context includes: MINIMAL/NO SPECIFIC DATA]")
}

func TestResolve_DependsOnAutoIncluded(t *testing.T) {
	r := New(baseData())
	generated := map[string]string{"overview": "This project parses widgets."}
	out := r.Resolve(context.Background(), Section{ID: "s2", DependsOn: []string{"overview"}}, generated)
	assert.Contains(t, out, "This project parses widgets.")
	assert.Contains(t, out, "From: overview")
}

func TestResolve_TutorialSafetyNet_InjectsEntryPointWhenNoSource(t *testing.T) {
	r := New(baseData())
	out := r.Resolve(context.Background(), Section{ID: "install", Style: "tutorial", ContextRefs: []string{"configs"}}, nil)
	assert.Contains(t, out, "Entry Point: app/widget")
	assert.Contains(t, out, "func Parse")
}

func TestResolve_TruncatesLongSource(t *testing.T) {
	huge := strings.Repeat("x", sourceTruncateChars+500)
	data := baseData()
	data.Entities = graph.NewMemoryAnalyzer([]graph.Module{{ID: "app/widget"}}).WithEntities("app/widget", []graph.Entity{
		{Name: "Big", Kind: "func", Source: huge},
	})
	r := New(data)
	out := r.Resolve(context.Background(), Section{ID: "s1", ContextRefs: []string{"source:app/widget"}}, nil)
	require.Contains(t, out, "[truncated at")
	assert.Less(t, len(out), len(huge))
}
