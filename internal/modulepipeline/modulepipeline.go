// Package modulepipeline implements ModulePipeline: the
// per-module retrieve → write → review → retry state machine, in both
// static and adaptive-tool-calling modes. Grounded on
// relay/internal/brain/explore_agent.go's tool-call conversation loop
// (iteration bound, deterministic message append order, per-call
// metrics) and original_source/layer2/module_pipeline/{writer,reviewer}.py's
// write/review/retry structure and structured-JSON-or-degrade fallback.
package modulepipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/common/taskerr"
	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/retrieval"
	"github.com/basegraph-app/docweaver/internal/toolregistry"
)

// Mode selects which write strategy a Pipeline uses.
type Mode string

const (
	ModeStatic   Mode = "static"
	ModeAdaptive Mode = "adaptive"
)

// Config bounds retries, timeouts, and turn counts.
type Config struct {
	Mode            Mode
	MaxRetries int // default 1
	RetrieveTimeout time.Duration
	ReviewTimeout   time.Duration
	MaxTurns int // default 3, adaptive mode only
	AutoExpand      bool
	WriteTier       llmtransport.Tier
	SemanticTopK int // optional top-k neighbors, static mode only
}

// Task is the scheduler-supplied input for one module pass: a snapshot
// of dependency artifacts and the SCC context if the module belongs to
// a non-trivial SCC (ModuleTaskState, minus transient
// write-phase fields the pipeline owns internally).
type Task struct {
	ModuleID            graph.ModuleID
	DependencyArtifacts []graph.ModuleArtifact
	SccContext          *graph.SccContext
}

// Pipeline drives one module through INIT → RETRIEVING → WRITING →
// REVIEWING → {DONE | RETRY | FAIL}.
type Pipeline struct {
	Transport llmtransport.Client
	Entities  graph.EntitySource
	Search    retrieval.Service
	Graph     *graph.DependencyGraph
	Sem       *semaphore.Weighted
	Config    Config
}

func New(transport llmtransport.Client, entities graph.EntitySource, search retrieval.Service, g *graph.DependencyGraph, sem *semaphore.Weighted, cfg Config) *Pipeline {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetrieveTimeout == 0 {
		cfg.RetrieveTimeout = 10 * time.Second
	}
	if cfg.ReviewTimeout == 0 {
		cfg.ReviewTimeout = 60 * time.Second
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 3
	}
	if cfg.WriteTier == "" {
		cfg.WriteTier = llmtransport.TierFast
	}
	return &Pipeline{Transport: transport, Entities: entities, Search: search, Graph: g, Sem: sem, Config: cfg}
}

type writeOutput struct {
	artifact graph.ModuleArtifact
	degraded bool
}

type reviewOutcome struct {
	passed   bool
	feedback string
}

// draftFields is the structured JSON shape both write modes parse into.
type draftFields struct {
	Summary         string   `json:"summary"`
	Responsibility  string   `json:"responsibility"`
	KeyFunctions    []kfJSON `json:"key_functions"`
	DependencyUsage string   `json:"dependency_usage"`
	Exports         string   `json:"exports"`
}

type kfJSON struct {
	Name    string `json:"name"`
	Purpose string `json:"purpose"`
}

type reviewFields struct {
	Passed   bool   `json:"passed"`
	Feedback string `json:"feedback"`
}

// Run executes the full state machine for one module and returns its
// artifact. A non-nil error means the module failed terminally (RETRIEVING
// failure or an LLM/IO error) — the scheduler records it and moves on
// without cancelling any other module.
func (p *Pipeline) Run(ctx context.Context, task Task) (graph.ModuleArtifact, error) {
	chunks, err := p.retrieve(ctx, task.ModuleID)
	if err != nil {
		return graph.ModuleArtifact{}, taskerr.NewFatal(fmt.Errorf("retrieve: %w", err))
	}

	var (
		last          writeOutput
		reviewPassed  bool
		expanded      string
		retryFeedback string
	)

	for attempt := 0; attempt <= p.Config.MaxRetries; attempt++ {
		out, err := p.write(ctx, task, chunks, retryFeedback, expanded)
		if err != nil {
			return graph.ModuleArtifact{}, taskerr.NewRetryable(fmt.Errorf("write (attempt %d): %w", attempt, err))
		}
		last = out

		outcome, err := p.review(ctx, task, out.artifact, chunks)
		if err != nil {
			return graph.ModuleArtifact{}, taskerr.NewFatal(fmt.Errorf("review (attempt %d): %w", attempt, err))
		}
		if outcome.passed {
			reviewPassed = true
			break
		}

		slog.InfoContext(ctx, "modulepipeline: review failed, retrying", "attempt", attempt, "feedback", outcome.feedback)
		retryFeedback = outcome.feedback
		if p.Config.Mode == ModeAdaptive && p.Config.AutoExpand {
			expanded = p.expandFromFeedback(ctx, task, outcome.feedback)
		}
	}

	if !reviewPassed {
		// Retries exhausted without a passing review: accepted as a
		// degraded artifact rather than a task failure, but still logged
		// against the shared sentinel so the condition is greppable
		// across runs.
		slog.WarnContext(ctx, "modulepipeline: review retries exhausted, accepting degraded artifact",
			"module", task.ModuleID, "err", taskerr.ErrReviewExhausted)
	}

	artifact := last.artifact
	artifact.Degraded = last.degraded || !reviewPassed
	return artifact, nil
}

func (p *Pipeline) retrieve(ctx context.Context, moduleID graph.ModuleID) ([]retrieval.Chunk, error) {
	rctx, cancel := context.WithTimeout(ctx, p.Config.RetrieveTimeout)
	defer cancel()

	chunks, err := p.Search.SearchModuleTopK(rctx, string(moduleID), 0)
	if err != nil {
		if rctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", taskerr.ErrRetrieveTimeout, rctx.Err())
		}
		return nil, err
	}
	if rctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", taskerr.ErrRetrieveTimeout, rctx.Err())
	}
	return chunks, nil
}

func (p *Pipeline) write(ctx context.Context, task Task, chunks []retrieval.Chunk, retryFeedback, expandedContext string) (writeOutput, error) {
	if p.Config.Mode == ModeAdaptive {
		return p.writeAdaptive(ctx, task, retryFeedback, expandedContext)
	}
	return p.writeStatic(ctx, task, chunks, retryFeedback)
}

// writeStatic assembles the full context up front and issues exactly
// one LLM call.
func (p *Pipeline) writeStatic(ctx context.Context, task Task, chunks []retrieval.Chunk, retryFeedback string) (writeOutput, error) {
	var neighbors []retrieval.Chunk
	if p.Config.SemanticTopK > 0 {
		hits, err := p.Search.SearchSemantic(ctx, string(task.ModuleID), p.Config.SemanticTopK)
		if err == nil {
			for _, h := range hits {
				if h.ModuleID != string(task.ModuleID) {
					neighbors = append(neighbors, h)
				}
			}
		}
	}

	prompt := staticWritePrompt(task, chunks, neighbors, retryFeedback)

	if err := p.Sem.Acquire(ctx, 1); err != nil {
		return writeOutput{}, fmt.Errorf("acquire write semaphore: %w", err)
	}
	resp, err := p.Transport.Complete(ctx, llmtransport.CompleteRequest{
		Tier:         p.Config.WriteTier,
		SystemPrompt: moduleWriteSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "module_artifact",
		Schema:       llmtransport.GenerateSchema[draftFields](),
	})
	p.Sem.Release(1)
	if err != nil {
		return writeOutput{}, err
	}

	return parseDraft(task.ModuleID, resp.Content), nil
}

// writeAdaptive drives the five-tool conversation loop:
// the model sees only module name, docstring, entity names, and
// dependency list/artifacts, and must request anything else via tools.
func (p *Pipeline) writeAdaptive(ctx context.Context, task Task, retryFeedback, expandedContext string) (writeOutput, error) {
	registry, err := toolregistry.BuildDefault(p.Entities, p.Search, p.Graph, task.ModuleID)
	if err != nil {
		return writeOutput{}, fmt.Errorf("build tool registry: %w", err)
	}

	entities, err := p.Entities.Entities(ctx, task.ModuleID)
	if err != nil {
		return writeOutput{}, fmt.Errorf("load module entities: %w", err)
	}

	messages := []llmtransport.Message{
		{Role: "system", Content: moduleWriteSystemPrompt},
		{Role: "user", Content: adaptiveOpeningPrompt(task, entities, retryFeedback, expandedContext)},
	}

	var finalContent string
	reachedMaxTurns := true

	for turn := 0; turn < p.Config.MaxTurns; turn++ {
		if err := p.Sem.Acquire(ctx, 1); err != nil {
			return writeOutput{}, fmt.Errorf("acquire write semaphore: %w", err)
		}
		resp, err := p.Transport.ChatWithTools(ctx, llmtransport.ToolRequest{
			Tier:     p.Config.WriteTier,
			Messages: messages,
			Tools:    registry.Definitions(),
		})
		p.Sem.Release(1)
		if err != nil {
			return writeOutput{}, fmt.Errorf("chat turn %d: %w", turn, err)
		}

		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			reachedMaxTurns = false
			break
		}

		// Deterministic append order: assistant message first, then one
		// tool-role message per call, in the order the model issued them,
		// so the conversation replays identically on a retry.
		messages = append(messages, llmtransport.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result, err := registry.Handle(ctx, tc.Name, json.RawMessage(tc.Arguments))
			if err != nil {
				// Tool-call runtime failure: the error becomes the tool
				// result, conversation continues.
				result = fmt.Sprintf("error: %v", err)
			}
			messages = append(messages, llmtransport.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: tc.ID,
			})
		}
		finalContent = resp.Content
	}

	if reachedMaxTurns {
		slog.WarnContext(ctx, "modulepipeline: adaptive write reached max turns, emitting best-effort content",
			"module", task.ModuleID, "max_turns", p.Config.MaxTurns)
	}

	out := parseDraft(task.ModuleID, finalContent)
	out.degraded = out.degraded || reachedMaxTurns
	return out, nil
}

func (p *Pipeline) review(ctx context.Context, task Task, draft graph.ModuleArtifact, chunks []retrieval.Chunk) (reviewOutcome, error) {
	rctx, cancel := context.WithTimeout(ctx, p.Config.ReviewTimeout)
	defer cancel()

	prompt := reviewPrompt(task, draft, chunks)

	if err := p.Sem.Acquire(rctx, 1); err != nil {
		return timedOutReview(), nil
	}
	resp, err := p.Transport.Complete(rctx, llmtransport.CompleteRequest{
		Tier:         llmtransport.TierFast,
		SystemPrompt: reviewSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "review_result",
		Schema:       llmtransport.GenerateSchema[reviewFields](),
	})
	p.Sem.Release(1)

	if err != nil {
		if rctx.Err() != nil {
			// Reviewer timeout: treated as a failed review, not a task
			// failure; the attempt still counts against the retry budget.
			return timedOutReview(), nil
		}
		return reviewOutcome{}, err
	}

	var fields reviewFields
	if err := json.Unmarshal([]byte(stripFence(resp.Content)), &fields); err != nil {
		slog.WarnContext(ctx, "modulepipeline: reviewer response did not parse, treating as failed review", "err", err)
		return reviewOutcome{passed: false, feedback: "reviewer response did not parse as JSON"}, nil
	}
	return reviewOutcome{passed: fields.Passed, feedback: fields.Feedback}, nil
}

func timedOutReview() reviewOutcome {
	return reviewOutcome{passed: false, feedback: "reviewer timed out"}
}

// entityNamePattern extracts capitalized-identifier-looking tokens from
// reviewer feedback — a simple, dependency-free heuristic for "entity
// referenced but missing" extraction.
var entityNamePattern = regexp.MustCompile(`\b[A-Z][A-Za-z0-9_]{2,}\b`)

func (p *Pipeline) expandFromFeedback(ctx context.Context, task Task, feedback string) string {
	names := uniqueMatches(entityNamePattern.FindAllString(feedback, -1))
	if len(names) == 0 {
		return ""
	}

	registry, err := toolregistry.BuildDefault(p.Entities, p.Search, p.Graph, task.ModuleID)
	if err != nil {
		return ""
	}

	var b strings.Builder
	for _, name := range names {
		args, _ := json.Marshal(map[string]string{"name": name})
		if out, err := registry.Handle(ctx, "get_function_details", args); err == nil {
			fmt.Fprintf(&b, "--- %s ---\n%s\n\n", name, out)
		}
		if out, err := registry.Handle(ctx, "find_usage_patterns", args); err == nil {
			fmt.Fprintf(&b, "--- usages of %s ---\n%s\n\n", name, out)
		}
	}
	return b.String()
}

func uniqueMatches(matches []string) []string {
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
		if len(out) >= 5 {
			break
		}
	}
	return out
}

func parseDraft(moduleID graph.ModuleID, content string) writeOutput {
	var fields draftFields
	if err := json.Unmarshal([]byte(stripFence(content)), &fields); err != nil {
		// Structured-output parse failure: wrap the raw text, mark
		// degraded.
		return writeOutput{
			artifact: graph.ModuleArtifact{
				ModuleID: moduleID,
				Summary:  content,
			},
			degraded: true,
		}
	}

	kfs := make([]graph.KeyFunction, len(fields.KeyFunctions))
	for i, k := range fields.KeyFunctions {
		kfs[i] = graph.KeyFunction{Name: k.Name, Purpose: k.Purpose}
	}
	return writeOutput{artifact: graph.ModuleArtifact{
		ModuleID:        moduleID,
		Summary:         fields.Summary,
		Responsibility:  fields.Responsibility,
		KeyFunctions:    kfs,
		DependencyUsage: fields.DependencyUsage,
		Exports:         fields.Exports,
	}}
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

