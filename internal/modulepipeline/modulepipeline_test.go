package modulepipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/retrieval"
)

type fakeTransport struct {
	completeFn func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error)
	toolsFn    func(ctx context.Context, req llmtransport.ToolRequest) (*llmtransport.ToolResponse, error)
}

func (f *fakeTransport) Complete(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
	return f.completeFn(ctx, req)
}

func (f *fakeTransport) ChatWithTools(ctx context.Context, req llmtransport.ToolRequest) (*llmtransport.ToolResponse, error) {
	return f.toolsFn(ctx, req)
}

func (f *fakeTransport) ModelFor(tier llmtransport.Tier) string { return "fake-model" }

func draftJSON(summary string) string {
	b, _ := json.Marshal(draftFields{
		Summary:         summary,
		Responsibility:  "parses widgets",
		KeyFunctions:    []kfJSON{{Name: "Parse", Purpose: "parses a widget from bytes"}},
		DependencyUsage: "uses helper for validation",
		Exports:         "Parse",
	})
	return string(b)
}

func reviewJSON(passed bool, feedback string) string {
	b, _ := json.Marshal(reviewFields{Passed: passed, Feedback: feedback})
	return string(b)
}

func newMemoryService(chunks []retrieval.Chunk) *retrieval.MemoryService {
	s := retrieval.NewMemoryService()
	if len(chunks) > 0 {
		_ = s.IndexChunks(context.Background(), chunks)
	}
	return s
}

func buildGraph(t *testing.T) (*graph.DependencyGraph, *graph.MemoryAnalyzer) {
	t.Helper()
	ma := graph.NewMemoryAnalyzer([]graph.Module{
		{ID: "widget", Imports: []graph.ModuleID{"helper"}},
		{ID: "helper"},
	}).WithEntities("widget", []graph.Entity{
		{Name: "Parse", Kind: "function", Doc: "Parse reads a widget.", Signature: "func Parse([]byte) (Widget, error)", Source: "func Parse(b []byte) (Widget, error) { return Widget{}, nil }"},
	}).WithEntities("helper", []graph.Entity{
		{Name: "Validate", Kind: "function", Doc: "Validate checks a widget.", Signature: "func Validate(Widget) error"},
	})
	g, err := ma.Analyze(context.Background())
	require.NoError(t, err)
	return g, ma
}

func TestRun_StaticMode_HappyPath(t *testing.T) {
	g, ma := buildGraph(t)
	search := newMemoryService([]retrieval.Chunk{
		{ID: "1", ModuleID: "widget", EntityName: "Parse", Code: "func Parse(b []byte) (Widget, error) { return Widget{}, nil }", FilePath: "widget.go", StartLine: 1},
	})

	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		if req.SchemaName == "review_result" {
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		}
		return &llmtransport.CompleteResponse{Content: draftJSON("parses widget byte streams")}, nil
	}}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeStatic})
	artifact, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	require.NoError(t, err)
	assert.Equal(t, "parses widget byte streams", artifact.Summary)
	assert.False(t, artifact.Degraded)
}

func TestRun_StaticMode_RetrieveFailurePropagates(t *testing.T) {
	g, ma := buildGraph(t)
	search := &failingSearch{}
	transport := &fakeTransport{}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeStatic})
	_, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	assert.Error(t, err)
}

// TestRun_ReviewFailureThenRecovery exercises scenario 5: the first draft
// is rejected, feedback is threaded into the retry prompt, and the second
// attempt passes.
func TestRun_ReviewFailureThenRecovery(t *testing.T) {
	g, ma := buildGraph(t)
	search := newMemoryService(nil)

	reviewCalls := 0
	var sawFeedbackInRetry bool
	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		if req.SchemaName == "review_result" {
			reviewCalls++
			if reviewCalls == 1 {
				return &llmtransport.CompleteResponse{Content: reviewJSON(false, "missing mention of Validate dependency")}, nil
			}
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		}
		if containsSubstring(req.UserPrompt, "missing mention of Validate dependency") {
			sawFeedbackInRetry = true
		}
		return &llmtransport.CompleteResponse{Content: draftJSON("parses widgets")}, nil
	}}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeStatic, MaxRetries: 1})
	artifact, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	require.NoError(t, err)
	assert.False(t, artifact.Degraded)
	assert.Equal(t, 2, reviewCalls)
	assert.True(t, sawFeedbackInRetry, "retry prompt should include the reviewer's feedback")
}

func TestRun_RetriesExhausted_StillReturnsDegradedArtifact(t *testing.T) {
	g, ma := buildGraph(t)
	search := newMemoryService(nil)

	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		if req.SchemaName == "review_result" {
			return &llmtransport.CompleteResponse{Content: reviewJSON(false, "still not good enough")}, nil
		}
		return &llmtransport.CompleteResponse{Content: draftJSON("parses widgets")}, nil
	}}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeStatic, MaxRetries: 1})
	artifact, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	require.NoError(t, err, "exhausting retries is a degraded success, not a pipeline failure")
	assert.True(t, artifact.Degraded)
	assert.Equal(t, "parses widgets", artifact.Summary, "last draft is still accepted")
}

func TestRun_StructuredOutputParseFailure_WrapsRawTextDegraded(t *testing.T) {
	g, ma := buildGraph(t)
	search := newMemoryService(nil)

	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		if req.SchemaName == "review_result" {
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		}
		return &llmtransport.CompleteResponse{Content: "not json at all"}, nil
	}}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeStatic})
	artifact, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	require.NoError(t, err)
	assert.True(t, artifact.Degraded)
	assert.Equal(t, "not json at all", artifact.Summary)
}

func TestRun_AdaptiveMode_ToolCallLoopThenFinalDraft(t *testing.T) {
	g, ma := buildGraph(t)
	search := newMemoryService([]retrieval.Chunk{
		{ID: "1", ModuleID: "widget", EntityName: "Parse", Code: "func Parse(b []byte) (Widget, error) { return Widget{}, nil }", FilePath: "widget.go", StartLine: 1},
	})

	turn := 0
	transport := &fakeTransport{
		completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		},
		toolsFn: func(ctx context.Context, req llmtransport.ToolRequest) (*llmtransport.ToolResponse, error) {
			turn++
			if turn == 1 {
				return &llmtransport.ToolResponse{
					ToolCalls: []llmtransport.ToolCall{
						{ID: "call1", Name: "get_function_details", Arguments: `{"name":"Parse"}`},
					},
				}, nil
			}
			return &llmtransport.ToolResponse{Content: draftJSON("parses widgets using Parse")}, nil
		},
	}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeAdaptive, MaxTurns: 3})
	artifact, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	require.NoError(t, err)
	assert.Equal(t, "parses widgets using Parse", artifact.Summary)
	assert.False(t, artifact.Degraded)
	assert.Equal(t, 2, turn)
}

func TestRun_AdaptiveMode_MaxTurnsReachedEmitsBestEffortDegraded(t *testing.T) {
	g, ma := buildGraph(t)
	search := newMemoryService(nil)

	transport := &fakeTransport{
		completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		},
		toolsFn: func(ctx context.Context, req llmtransport.ToolRequest) (*llmtransport.ToolResponse, error) {
			return &llmtransport.ToolResponse{
				ToolCalls: []llmtransport.ToolCall{{ID: "call", Name: "get_module_overview", Arguments: `{}`}},
			}, nil
		},
	}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeAdaptive, MaxTurns: 2})
	artifact, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	require.NoError(t, err)
	assert.True(t, artifact.Degraded)
}

func TestRun_AdaptiveMode_AutoExpandOnReviewFailure(t *testing.T) {
	g, ma := buildGraph(t)
	search := newMemoryService([]retrieval.Chunk{
		{ID: "1", ModuleID: "helper", EntityName: "Validate", Code: "func Validate(w Widget) error { return nil }", FilePath: "helper.go", StartLine: 1},
	})

	reviewCalls := 0
	var sawExpandedContext bool
	transport := &fakeTransport{
		completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
			reviewCalls++
			if reviewCalls == 1 {
				return &llmtransport.CompleteResponse{Content: reviewJSON(false, "Validate is never mentioned")}, nil
			}
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		},
		toolsFn: func(ctx context.Context, req llmtransport.ToolRequest) (*llmtransport.ToolResponse, error) {
			for _, m := range req.Messages {
				if containsSubstring(m.Content, "Additional context fetched") {
					sawExpandedContext = true
				}
			}
			return &llmtransport.ToolResponse{Content: draftJSON("parses widgets, validated via Validate")}, nil
		},
	}

	p := New(transport, ma, search, g, semaphore.NewWeighted(4), Config{Mode: ModeAdaptive, MaxTurns: 3, MaxRetries: 1, AutoExpand: true})
	artifact, err := p.Run(context.Background(), Task{ModuleID: "widget"})
	require.NoError(t, err)
	assert.False(t, artifact.Degraded)
	assert.Equal(t, 2, reviewCalls)
	assert.True(t, sawExpandedContext, "the retry's opening prompt should carry tool results fetched for entities named in the feedback")
}

type failingSearch struct{}

func (failingSearch) IndexChunks(ctx context.Context, chunks []retrieval.Chunk) error { return nil }
func (failingSearch) SearchSemantic(ctx context.Context, query string, limit int) ([]retrieval.Chunk, error) {
	return nil, fmt.Errorf("search unavailable")
}
func (failingSearch) SearchByEntity(ctx context.Context, name string, limit int) ([]retrieval.Chunk, error) {
	return nil, fmt.Errorf("search unavailable")
}
func (failingSearch) SearchUsages(ctx context.Context, entityName string, limit int) ([]retrieval.Chunk, error) {
	return nil, fmt.Errorf("search unavailable")
}
func (failingSearch) SearchModuleTopK(ctx context.Context, moduleID string, k int) ([]retrieval.Chunk, error) {
	return nil, fmt.Errorf("search unavailable")
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) == 0 || (len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
