// Package planpipeline implements PlanPipeline: produce
// a DocPlan, review it, execute its section DAG, and assemble the
// final document. Grounded on
// original_source/layer2/plan_pipeline/{planner,executor,reviewer}.py
// for the generate/review/execute/assemble structure and on
// internal/wavefront.Run, already generic over comparable ID types,
// reused here unmodified for section-layer execution (the section DAG
// is scheduled by the identical algorithm internal/scheduler uses for
// modules).
package planpipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/common/taskerr"
	"github.com/basegraph-app/docweaver/internal/contextresolver"
	"github.com/basegraph-app/docweaver/internal/wavefront"
)

// DocPlan is the top-level document plan.
type DocPlan struct {
	ProjectType         string    `json:"projectType"`
	Audience            string    `json:"audience"`
	PrimaryUseCase      string    `json:"primaryUseCase"`
	ArchitecturePattern string    `json:"architecturePattern"`
	Sections            []Section `json:"sections"`
	Glossary            []string  `json:"glossary"`
}

// Section is one planned node of the final document's section DAG.
// ContextRefs are symbolic; see internal/contextresolver.
type Section struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Purpose     string   `json:"purpose"`
	Style       string   `json:"style"`
	MaxTokens   int      `json:"maxTokens"`
	ContextRefs []string `json:"contextRefs"`
	DependsOn   []string `json:"dependsOn"`
}

// GeneratedSection is one section's rendered content, keyed by id in
// the pipeline's result map.
type GeneratedSection struct {
	ID      string
	Content string
}

// Config tunes retry/concurrency behavior.
type Config struct {
	MaxPlanRetries int // default 2
	PlanTier       llmtransport.Tier
	WriteTier llmtransport.Tier // reasoning tier, used for section generation
}

// Pipeline drives plan generation, review, execution, and assembly.
type Pipeline struct {
	Transport llmtransport.Client
	Resolver  *contextresolver.Resolver
	Sem       *semaphore.Weighted
	Config    Config
}

func New(transport llmtransport.Client, resolver *contextresolver.Resolver, sem *semaphore.Weighted, cfg Config) *Pipeline {
	if cfg.MaxPlanRetries <= 0 {
		cfg.MaxPlanRetries = 2
	}
	if cfg.PlanTier == "" {
		cfg.PlanTier = llmtransport.TierFast
	}
	if cfg.WriteTier == "" {
		cfg.WriteTier = llmtransport.TierReasoning
	}
	return &Pipeline{Transport: transport, Resolver: resolver, Sem: sem, Config: cfg}
}

// ProjectSummary is the structural input plan generation draws on —
// folder/module summaries plus project metrics, grounded on
// original_source/layer2/plan_pipeline/planner.py's context-assembly
// (folder tree, module/folder counts, cycle count, config summary).
type ProjectSummary struct {
	Tree              string
	ModuleCount       int
	FolderCount       int
	CycleCount        int
	ConfigFiles       []string
	EntryPointPreview string
}

// Run executes all four phases and returns the assembled document plus
// the plan that produced it and any section-generation warnings.
func (p *Pipeline) Run(ctx context.Context, summary ProjectSummary) (string, DocPlan, []string, error) {
	plan, err := p.generateAndReviewPlan(ctx, summary)
	if err != nil {
		return "", DocPlan{}, nil, fmt.Errorf("plan generation: %w", err)
	}

	generated, warnings := p.execute(ctx, plan)
	doc := p.assemble(plan, generated)
	return doc, plan, warnings, nil
}

// generateAndReviewPlan runs phases 1-2: generate, review, regenerate
// with feedback, up to MaxPlanRetries, accepting the latest plan after
// the limit is exhausted.
func (p *Pipeline) generateAndReviewPlan(ctx context.Context, summary ProjectSummary) (DocPlan, error) {
	var feedback string
	var plan DocPlan

	for attempt := 0; attempt <= p.Config.MaxPlanRetries; attempt++ {
		generated, err := p.generatePlan(ctx, summary, feedback)
		if err != nil {
			return DocPlan{}, err
		}
		plan = generated

		valid, fb, err := p.reviewPlan(ctx, plan, summary)
		if err != nil {
			return DocPlan{}, err
		}
		if valid {
			return plan, nil
		}
		slog.InfoContext(ctx, "planpipeline: plan review failed, regenerating", "attempt", attempt, "feedback", fb)
		feedback = fb
	}
	// Retries exhausted without a valid plan: fall through with the latest
	// generated plan rather than failing the run, but log against the
	// shared sentinel for greppability.
	slog.WarnContext(ctx, "planpipeline: plan review retries exhausted, accepting latest plan", "err", taskerr.ErrReviewExhausted)
	return plan, nil
}

func (p *Pipeline) generatePlan(ctx context.Context, summary ProjectSummary, feedback string) (DocPlan, error) {
	prompt := planGenerationPrompt(summary, feedback)

	if err := p.Sem.Acquire(ctx, 1); err != nil {
		return DocPlan{}, fmt.Errorf("acquire semaphore: %w", err)
	}
	resp, err := p.Transport.Complete(ctx, llmtransport.CompleteRequest{
		Tier:         p.Config.PlanTier,
		SystemPrompt: planGenerationSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "doc_plan",
		Schema:       llmtransport.GenerateSchema[DocPlan](),
	})
	p.Sem.Release(1)
	if err != nil {
		return defaultPlan(), nil
	}

	plan, ok := parsePlan(resp.Content)
	if !ok {
		slog.WarnContext(ctx, "planpipeline: plan did not parse, using default plan")
		return defaultPlan(), nil
	}
	return plan, nil
}

func (p *Pipeline) reviewPlan(ctx context.Context, plan DocPlan, summary ProjectSummary) (bool, string, error) {
	prompt := planReviewPrompt(plan, summary)

	if err := p.Sem.Acquire(ctx, 1); err != nil {
		return false, "", fmt.Errorf("acquire semaphore: %w", err)
	}
	resp, err := p.Transport.Complete(ctx, llmtransport.CompleteRequest{
		Tier:         p.Config.PlanTier,
		SystemPrompt: planReviewSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "plan_review",
		Schema:       llmtransport.GenerateSchema[planReviewFields](),
	})
	p.Sem.Release(1)
	if err != nil {
		return false, "reviewer call failed: " + err.Error(), nil
	}

	var fields planReviewFields
	if !unmarshalLenient(resp.Content, &fields) {
		return false, "reviewer response did not parse as JSON", nil
	}
	return fields.PlanValid, fields.Feedback, nil
}

type planReviewFields struct {
	PlanValid bool   `json:"plan_valid"`
	Feedback  string `json:"feedback"`
}

// execute runs phase 3: section DAG execution via internal/wavefront,
// reusing the identical scheduling primitive internal/scheduler uses
// for modules — the same wavefront algorithm, but over the section DAG.
func (p *Pipeline) execute(ctx context.Context, plan DocPlan) (map[string]string, []string) {
	byID := make(map[string]Section, len(plan.Sections))
	nodes := make([]wavefront.Node[string], 0, len(plan.Sections))
	for _, s := range plan.Sections {
		byID[s.ID] = s
		nodes = append(nodes, wavefront.Node[string]{ID: s.ID, Deps: s.DependsOn})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	generated := make(map[string]string, len(plan.Sections))
	var warnings []string
	var mu sync.Mutex

	wavefront.Run(ctx, nodes, p.Sem, func(ctx context.Context, id string) error {
		section := byID[id]

		mu.Lock()
		snapshot := make(map[string]string, len(generated))
		for k, v := range generated {
			snapshot[k] = v
		}
		mu.Unlock()

		resolved := p.Resolver.Resolve(ctx, contextresolver.Section{
			ID:          section.ID,
			Style:       section.Style,
			ContextRefs: section.ContextRefs,
			DependsOn:   section.DependsOn,
		}, snapshot)

		if warn := checkContextSufficiency(section, resolved); warn != "" {
			mu.Lock()
			warnings = append(warnings, warn)
			mu.Unlock()
		}

		content, err := p.generateSection(ctx, section, resolved)
		if err != nil {
			slog.WarnContext(ctx, "planpipeline: section generation failed, emitting empty content", "section", id, "error", err)
			content = ""
		}

		mu.Lock()
		generated[id] = content
		mu.Unlock()
		return nil
	}, func(remaining []string) {
		slog.WarnContext(ctx, "planpipeline: no wavefront could be formed over section DAG, force-dispatching remainder", "remaining", remaining)
	})

	return generated, warnings
}

func (p *Pipeline) generateSection(ctx context.Context, section Section, resolvedContext string) (string, error) {
	if err := p.Sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire semaphore: %w", err)
	}
	resp, err := p.Transport.Complete(ctx, llmtransport.CompleteRequest{
		Tier:         p.Config.WriteTier,
		SystemPrompt: sectionWriteSystemPrompt,
		UserPrompt:   sectionWritePrompt(section, resolvedContext),
		MaxTokens:    section.MaxTokens,
	})
	p.Sem.Release(1)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// assemble is phase 4: concatenate sections in declared order under a
// project title (original_source/layer2/plan_pipeline/executor.py's
// `sections_content = [f"# {plan['primary_use_case']}\n\n"]` pattern).
func (p *Pipeline) assemble(plan DocPlan, generated map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", plan.PrimaryUseCase)
	for _, s := range plan.Sections {
		content := generated[s.ID]
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", s.Title, content)
	}
	return b.String()
}

// checkContextSufficiency is a non-blocking warning when a
// tutorial-style section's resolved context lacks source code, grounded
// on original_source/layer2/plan_pipeline/executor.py:validate_context_sufficiency.
func checkContextSufficiency(section Section, resolved string) string {
	style := strings.ToLower(section.Style)
	hasSource := strings.Contains(resolved, "```")

	switch {
	case (style == "tutorial" || style == "quickstart") && !hasSource:
		return fmt.Sprintf("section %q is tutorial-style but its resolved context has no source code", section.ID)
	case (style == "api-docs" || style == "api" || style == "reference") && !strings.Contains(resolved, "Public API") && !hasSource:
		return fmt.Sprintf("section %q is API-reference style but its resolved context has no source or API signatures", section.ID)
	case len(resolved) == 0:
		return fmt.Sprintf("section %q has no resolved context at all", section.ID)
	case len(resolved) < 100:
		return fmt.Sprintf("section %q has minimal resolved context (%d chars)", section.ID, len(resolved))
	}
	return ""
}

var fencePattern = regexp.MustCompile("(?s)```json|```")

func stripFence(s string) string {
	return strings.TrimSpace(fencePattern.ReplaceAllString(s, ""))
}

func unmarshalLenient(content string, v interface{}) bool {
	return json.Unmarshal([]byte(stripFence(content)), v) == nil
}

func parsePlan(content string) (DocPlan, bool) {
	var plan DocPlan
	if !unmarshalLenient(content, &plan) || len(plan.Sections) == 0 {
		return DocPlan{}, false
	}
	return plan, true
}

// defaultPlan is the built-in fallback used when plan generation fails
// to produce parseable JSON, matching
// original_source/layer2/plan_pipeline/planner.py:generate_default_plan,
// translated to this project's Go-codebase-documentation domain in
// place of the original's Python-specific defaults.
func defaultPlan() DocPlan {
	return DocPlan{
		ProjectType:         "Go project",
		Audience:            "developers",
		PrimaryUseCase:      "Unknown",
		ArchitecturePattern: "Unknown",
		Sections: []Section{
			{ID: "overview", Title: "Overview", Purpose: "Orient a new reader to the project", Style: "introduction", MaxTokens: 800, ContextRefs: []string{"tree"}, DependsOn: nil},
			{ID: "installation", Title: "Installation", Purpose: "Explain how to build and configure the project", Style: "tutorial", MaxTokens: 500, ContextRefs: []string{"deps", "configs"}, DependsOn: nil},
			{ID: "architecture", Title: "Architecture", Purpose: "Describe how the major packages fit together", Style: "architecture", MaxTokens: 1500, ContextRefs: []string{"all_folders", "tree"}, DependsOn: []string{"overview"}},
			{ID: "api-reference", Title: "API Reference", Purpose: "Document the public entry points", Style: "api-docs", MaxTokens: 1200, ContextRefs: []string{"entry_points"}, DependsOn: []string{"architecture"}},
		},
		Glossary: nil,
	}
}
