package foldersummary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/internal/graph"
)

func buildGraph() *graph.DependencyGraph {
	return graph.Build([]graph.Module{
		{ID: "app/widget/parse", SourcePath: "app/widget/parse.go", Imports: []graph.ModuleID{"app/helper/util"}},
		{ID: "app/widget/render", SourcePath: "app/widget/render.go", Imports: []graph.ModuleID{"app/widget/parse"}},
		{ID: "app/helper/util", SourcePath: "app/helper/util.go"},
	})
}

func TestBuild_CreatesAncestorFolders(t *testing.T) {
	g := buildGraph()
	folders := Build(g)

	assert.Contains(t, folders, "app/widget")
	assert.Contains(t, folders, "app/helper")
	assert.Contains(t, folders, "app")
	assert.Contains(t, folders, "")

	root := folders[""]
	assert.Contains(t, root.ChildFolders, "app")
}

func TestBuild_ParentChildLinkage(t *testing.T) {
	g := buildGraph()
	folders := Build(g)

	app := folders["app"]
	assert.ElementsMatch(t, []string{"app/widget", "app/helper"}, app.ChildFolders)
	assert.Equal(t, "app", folders["app/widget"].ParentPath)
}

func TestBottomUp_DeepestFirst(t *testing.T) {
	g := buildGraph()
	folders := Build(g)
	ordered := BottomUp(folders)

	require.NotEmpty(t, ordered)
	for i := 1; i < len(ordered); i++ {
		assert.LessOrEqual(t, ordered[i].Depth, ordered[i-1].Depth)
	}
	assert.Equal(t, 2, ordered[0].Depth)
}

func TestBottomUp_SkipsEmptyFolders(t *testing.T) {
	g := buildGraph()
	folders := Build(g)
	for _, f := range BottomUp(folders) {
		assert.NotEmpty(t, f.Modules)
	}
}

func TestComputeMetrics_InternalVsExternal(t *testing.T) {
	g := buildGraph()
	folders := Build(g)

	widget := folders["app/widget"]
	assert.Equal(t, 1, widget.InternalDeps) // render -> parse, same folder
	assert.Equal(t, 1, widget.ExternalDeps) // parse -> helper/util
}

type fakeTransport struct {
	fn func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error)
}

func (f *fakeTransport) Complete(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
	return f.fn(ctx, req)
}
func (f *fakeTransport) ChatWithTools(ctx context.Context, req llmtransport.ToolRequest) (*llmtransport.ToolResponse, error) {
	return nil, nil
}
func (f *fakeTransport) ModelFor(tier llmtransport.Tier) string { return "fake-model" }

func TestSummarizer_Run_ChildSummaryFeedsParentPrompt(t *testing.T) {
	g := buildGraph()
	folders := Build(g)

	var sawChildSummary bool
	transport := &fakeTransport{fn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		if req.UserPrompt != "" && contains(req.UserPrompt, "widget folder summary") {
			sawChildSummary = true
		}
		if contains(req.UserPrompt, "Folder: app/widget") {
			return &llmtransport.CompleteResponse{Content: "widget folder summary"}, nil
		}
		return &llmtransport.CompleteResponse{Content: "some summary"}, nil
	}}

	s := New(transport, semaphore.NewWeighted(4))
	results, err := s.Run(context.Background(), folders, map[graph.ModuleID]string{
		"app/widget/parse": "parses widgets",
	})

	require.NoError(t, err)
	assert.Equal(t, "widget folder summary", results["app/widget"].Summary)
	assert.True(t, sawChildSummary, "parent folder prompt should reference the child folder's already-generated summary")
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
