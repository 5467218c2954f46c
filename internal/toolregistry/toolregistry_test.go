package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/retrieval"
)

func buildFixture(t *testing.T) (*Registry, graph.ModuleID) {
	t.Helper()
	modules := []graph.Module{
		{ID: "main", Imports: []graph.ModuleID{"helper"}},
		{ID: "helper"},
	}
	analyzer := graph.NewMemoryAnalyzer(modules).
		WithEntities("main", []graph.Entity{
			{Name: "Run", Kind: "function", Doc: "Run starts things.\nmore detail", Signature: "func Run()"},
			{Name: "Config", Kind: "type", Doc: "Config holds settings."},
		}).
		WithEntities("helper", []graph.Entity{
			{Name: "Helper", Kind: "function", Signature: "func Helper()"},
			{Name: "internal", Kind: "function", Signature: "func internal()"},
		})

	g, err := analyzer.Analyze(context.Background())
	require.NoError(t, err)

	search := retrieval.NewMemoryService()
	require.NoError(t, search.IndexChunks(context.Background(), []retrieval.Chunk{
		{ID: "1", ModuleID: "other", EntityName: "caller", Code: "Run()"},
	}))

	reg, err := BuildDefault(analyzer, search, g, "main")
	require.NoError(t, err)
	return reg, "main"
}

func TestBuildDefault_RegistersFiveTools(t *testing.T) {
	reg, _ := buildFixture(t)
	assert.Len(t, reg.Definitions(), 5)
}

func TestHandle_GetFunctionDetails(t *testing.T) {
	reg, _ := buildFixture(t)
	out, err := reg.Handle(context.Background(), "get_function_details", json.RawMessage(`{"name":"Run"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "func Run()")
}

func TestHandle_GetModuleOverview(t *testing.T) {
	reg, _ := buildFixture(t)
	out, err := reg.Handle(context.Background(), "get_module_overview", json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Run")
	assert.Contains(t, out, "Config")
}

func TestHandle_GetDependencyExportsRejectsNonDependency(t *testing.T) {
	reg, _ := buildFixture(t)
	out, err := reg.Handle(context.Background(), "get_dependency_exports", json.RawMessage(`{"module_id":"main"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "not a direct dependency")
}

func TestHandle_GetDependencyExportsAllowsDirectDependency(t *testing.T) {
	reg, _ := buildFixture(t)
	out, err := reg.Handle(context.Background(), "get_dependency_exports", json.RawMessage(`{"module_id":"helper"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "Helper")
	assert.NotContains(t, out, "internal")
}

func TestHandle_FindUsagePatterns(t *testing.T) {
	reg, _ := buildFixture(t)
	out, err := reg.Handle(context.Background(), "find_usage_patterns", json.RawMessage(`{"name":"Run"}`))
	require.NoError(t, err)
	assert.Contains(t, out, "caller")
}

func TestHandle_UnknownToolErrors(t *testing.T) {
	reg, _ := buildFixture(t)
	_, err := reg.Handle(context.Background(), "nonexistent", json.RawMessage(`{}`))
	assert.Error(t, err)
}
