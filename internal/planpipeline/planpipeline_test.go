package planpipeline

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/internal/contextresolver"
)

type fakeTransport struct {
	completeFn func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error)
}

func (f *fakeTransport) Complete(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
	return f.completeFn(ctx, req)
}

func (f *fakeTransport) ChatWithTools(ctx context.Context, req llmtransport.ToolRequest) (*llmtransport.ToolResponse, error) {
	return nil, nil
}

func (f *fakeTransport) ModelFor(tier llmtransport.Tier) string { return "fake-model" }

func planJSON(t *testing.T, plan DocPlan) string {
	t.Helper()
	b, err := json.Marshal(plan)
	require.NoError(t, err)
	return string(b)
}

func reviewJSON(valid bool, feedback string) string {
	b, _ := json.Marshal(planReviewFields{PlanValid: valid, Feedback: feedback})
	return string(b)
}

func twoSectionPlan() DocPlan {
	return DocPlan{
		PrimaryUseCase: "documenting widgets",
		Sections: []Section{
			{ID: "overview", Title: "Overview", Style: "introduction", ContextRefs: []string{"tree"}},
			{ID: "details", Title: "Details", Style: "architecture", ContextRefs: []string{"all_folders"}, DependsOn: []string{"overview"}},
		},
	}
}

func newResolver() *contextresolver.Resolver {
	return contextresolver.New(contextresolver.Data{
		Folders:     map[string]contextresolver.FolderSummary{"app": {Path: "app", Summary: "app code"}},
		ProjectTree: "app/\n",
	})
}

func TestRun_HappyPath_GeneratesAndAssembles(t *testing.T) {
	plan := twoSectionPlan()
	callCount := 0
	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		callCount++
		switch req.SchemaName {
		case "doc_plan":
			return &llmtransport.CompleteResponse{Content: planJSON(t, plan)}, nil
		case "plan_review":
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		default:
			return &llmtransport.CompleteResponse{Content: "generated section content"}, nil
		}
	}}

	p := New(transport, newResolver(), semaphore.NewWeighted(4), Config{})
	doc, gotPlan, warnings, err := p.Run(context.Background(), ProjectSummary{Tree: "app/\n"})

	require.NoError(t, err)
	assert.Contains(t, doc, "# documenting widgets")
	assert.Contains(t, doc, "## Overview")
	assert.Contains(t, doc, "## Details")
	assert.Contains(t, doc, "generated section content")
	assert.Equal(t, "documenting widgets", gotPlan.PrimaryUseCase)
	_ = warnings
}

func TestRun_PlanReviewFailureThenRecovery(t *testing.T) {
	plan := twoSectionPlan()
	reviewCalls := 0
	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		switch req.SchemaName {
		case "doc_plan":
			return &llmtransport.CompleteResponse{Content: planJSON(t, plan)}, nil
		case "plan_review":
			reviewCalls++
			if reviewCalls == 1 {
				return &llmtransport.CompleteResponse{Content: reviewJSON(false, "missing install section")}, nil
			}
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		default:
			return &llmtransport.CompleteResponse{Content: "section content"}, nil
		}
	}}

	p := New(transport, newResolver(), semaphore.NewWeighted(4), Config{MaxPlanRetries: 2})
	_, _, _, err := p.Run(context.Background(), ProjectSummary{})

	require.NoError(t, err)
	assert.Equal(t, 2, reviewCalls)
}

func TestRun_PlanReviewRetriesExhausted_AcceptsLatestPlan(t *testing.T) {
	plan := twoSectionPlan()
	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		switch req.SchemaName {
		case "doc_plan":
			return &llmtransport.CompleteResponse{Content: planJSON(t, plan)}, nil
		case "plan_review":
			return &llmtransport.CompleteResponse{Content: reviewJSON(false, "still not great")}, nil
		default:
			return &llmtransport.CompleteResponse{Content: "section content"}, nil
		}
	}}

	p := New(transport, newResolver(), semaphore.NewWeighted(4), Config{MaxPlanRetries: 1})
	doc, _, _, err := p.Run(context.Background(), ProjectSummary{})

	require.NoError(t, err)
	assert.Contains(t, doc, "section content")
}

func TestRun_PlanParseFailure_FallsBackToDefaultPlan(t *testing.T) {
	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		switch req.SchemaName {
		case "doc_plan":
			return &llmtransport.CompleteResponse{Content: "not valid json"}, nil
		case "plan_review":
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		default:
			return &llmtransport.CompleteResponse{Content: "section content"}, nil
		}
	}}

	p := New(transport, newResolver(), semaphore.NewWeighted(4), Config{})
	_, gotPlan, _, err := p.Run(context.Background(), ProjectSummary{})

	require.NoError(t, err)
	assert.Equal(t, "Go project", gotPlan.ProjectType)
	assert.Len(t, gotPlan.Sections, 4)
}

func TestRun_SectionGenerationFailure_EmitsEmptyContentOthersContinue(t *testing.T) {
	plan := twoSectionPlan()
	transport := &fakeTransport{completeFn: func(ctx context.Context, req llmtransport.CompleteRequest) (*llmtransport.CompleteResponse, error) {
		switch req.SchemaName {
		case "doc_plan":
			return &llmtransport.CompleteResponse{Content: planJSON(t, plan)}, nil
		case "plan_review":
			return &llmtransport.CompleteResponse{Content: reviewJSON(true, "")}, nil
		default:
			if req.UserPrompt != "" && containsSection(req.UserPrompt, "Details") {
				return nil, assertErr{}
			}
			return &llmtransport.CompleteResponse{Content: "overview body"}, nil
		}
	}}

	p := New(transport, newResolver(), semaphore.NewWeighted(4), Config{})
	doc, _, _, err := p.Run(context.Background(), ProjectSummary{})

	require.NoError(t, err)
	assert.Contains(t, doc, "overview body")
	assert.Contains(t, doc, "## Details")
}

type assertErr struct{}

func (assertErr) Error() string { return "section generation failed" }

func containsSection(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

func TestCheckContextSufficiency_TutorialWithoutSourceWarns(t *testing.T) {
	warn := checkContextSufficiency(Section{ID: "install", Style: "tutorial"}, "[Context includes: CONFIG FILES]\n\nsome config text")
	assert.Contains(t, warn, "tutorial-style")
}

func TestCheckContextSufficiency_SourcePresentNoWarning(t *testing.T) {
	warn := checkContextSufficiency(Section{ID: "install", Style: "tutorial"}, "[Context includes: SOURCE CODE]\n\n```\nfunc main() {}\n```")
	assert.Empty(t, warn)
}
