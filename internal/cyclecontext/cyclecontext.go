// Package cyclecontext implements CycleContextBuilder: one
// shared architectural summary per strongly connected component, so
// individual members of a cycle can be documented without re-deriving
// the group's collective responsibility. Grounded on the backoff idiom
// in relay/internal/brain/retriever.go and the structured single-shot
// completion pattern in common/llmtransport.Client.Complete.
package cyclecontext

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/internal/graph"
)

// defaultTotalBudget is the total character budget B spread across every
// SCC member.
const defaultTotalBudget = 60_000

// Member is one SCC member's source, as supplied by the SourceCollector.
type Member struct {
	ModuleID graph.ModuleID
	Source string // full source; truncated per-member by the builder
}

// SourceCollector supplies the full source of one SCC member. Satisfied
// by a thin adapter over graph.EntitySource in production
// (cmd/docweaver); a map-backed fake in tests.
type SourceCollector interface {
	CollectSource(ctx context.Context, m graph.ModuleID) (string, error)
}

// Builder constructs SccContexts.
type Builder struct {
	Transport    llmtransport.Client
	Sources      SourceCollector
	TotalBudget  int
	MaxAttempts  int
	InitialDelay time.Duration
}

func New(transport llmtransport.Client, sources SourceCollector) *Builder {
	return &Builder{
		Transport:    transport,
		Sources:      sources,
		TotalBudget:  defaultTotalBudget,
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
	}
}

// structuredContext is the JSON shape the LLM is asked to produce.
type structuredContext struct {
	CyclePattern             string   `json:"cycle_pattern"`
	CollectiveResponsibility string   `json:"collective_responsibility"`
	InterdependencyExplain   string   `json:"interdependency_explanation"`
	KeyAbstractions          []string `json:"key_abstractions"`
	EntryPoints              []string `json:"entry_points"`
	Utilities                []string `json:"utilities"`
	Concerns                 []string `json:"concerns"`
	Summary                  string   `json:"summary"`
}

// Build returns nil for singleton SCCs (no context needed). For
// non-trivial SCCs, it assembles a per-member-budgeted prompt and asks
// the LLM for a structured summary, halving the budget and retrying on
// a "context too long" failure and backing off on transient failures.
// It returns a nil context once attempts are exhausted, on a
// non-retryable transport error, or when the response does not parse, so
// dependent modules then proceed without SCC context rather than
// blocking.
func (b *Builder) Build(ctx context.Context, sccID graph.SccID, members []graph.ModuleID) (*graph.SccContext, error) {
	if len(members) <= 1 {
		return nil, nil
	}

	collected, err := b.collectMembers(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("collect scc member sources: %w", err)
	}

	budget := b.TotalBudget / len(members)
	signatureOnly := len(members) > 15
	if !signatureOnly && len(members) > 10 {
		budget = min(budget, 3000)
	}
	if signatureOnly {
		budget = min(budget, 2000)
	}

	delay := b.InitialDelay
	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prompt := buildPrompt(collected, budget, signatureOnly)

		resp, err := b.Transport.Complete(ctx, llmtransport.CompleteRequest{
			Tier:         llmtransport.TierReasoning,
			SystemPrompt: cycleContextSystemPrompt,
			UserPrompt:   prompt,
			SchemaName:   "scc_context",
			Schema:       llmtransport.GenerateSchema[structuredContext](),
		})
		if err != nil {
			if llmtransport.IsContextTooLong(err) {
				budget /= 2
				slog.WarnContext(ctx, "scc context: budget too large, halving and retrying",
					"scc", sccID, "attempt", attempt, "new_budget", budget)
				time.Sleep(delay)
				delay *= 2
				continue
			}
			if llmtransport.IsRetryable(ctx, err) && attempt < maxAttempts {
				slog.WarnContext(ctx, "scc context: transient failure, retrying",
					"scc", sccID, "attempt", attempt, "err", err)
				time.Sleep(delay)
				delay *= 2
				continue
			}
			slog.WarnContext(ctx, "scc context: build failed, members proceed without context",
				"scc", sccID, "err", err)
			return nil, nil
		}

		var parsed structuredContext
		if err := json.Unmarshal([]byte(stripFence(resp.Content)), &parsed); err != nil {
			slog.WarnContext(ctx, "scc context: parse failure, members proceed without context",
				"scc", sccID, "err", err)
			return nil, nil
		}

		return &graph.SccContext{
			SccID:     sccID,
			MemberIDs: append([]graph.ModuleID(nil), members...),
			Text:      formatContext(parsed),
		}, nil
	}

	slog.WarnContext(ctx, "scc context: exhausted all attempts, members proceed without context", "scc", sccID)
	return nil, nil
}

func (b *Builder) collectMembers(ctx context.Context, members []graph.ModuleID) ([]Member, error) {
	out := make([]Member, 0, len(members))
	for _, m := range members {
		src, err := b.Sources.CollectSource(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("collect source for %s: %w", m, err)
		}
		out = append(out, Member{ModuleID: m, Source: src})
	}
	return out, nil
}

func buildPrompt(members []Member, budgetPerMember int, signatureOnly bool) string {
	var b strings.Builder
	b.WriteString("The following modules form a strongly connected (cyclic) dependency group:\n\n")
	for _, m := range members {
		src := m.Source
		if signatureOnly {
			src = signaturesOnly(src)
		}
		src = llmtransportTruncate(src, budgetPerMember)
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", m.ModuleID, src)
	}
	return b.String()
}

// signaturesOnly keeps only lines that look like declarations, dropping
// bodies, for SCCs too large to fit full source under budget.
func signaturesOnly(src string) string {
	lines := strings.Split(src, "\n")
	var kept []string
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if strings.HasPrefix(trimmed, "func ") ||
			strings.HasPrefix(trimmed, "type ") ||
			strings.HasPrefix(trimmed, "//") {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func llmtransportTruncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n... [truncated]"
}

func formatContext(c structuredContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle pattern: %s\n\n", c.CyclePattern)
	fmt.Fprintf(&b, "Collective responsibility: %s\n\n", c.CollectiveResponsibility)
	fmt.Fprintf(&b, "Interdependency: %s\n\n", c.InterdependencyExplain)
	if len(c.KeyAbstractions) > 0 {
		fmt.Fprintf(&b, "Key abstractions: %s\n", strings.Join(c.KeyAbstractions, ", "))
	}
	if len(c.EntryPoints) > 0 {
		fmt.Fprintf(&b, "Entry points: %s\n", strings.Join(c.EntryPoints, ", "))
	}
	if len(c.Utilities) > 0 {
		fmt.Fprintf(&b, "Utilities: %s\n", strings.Join(c.Utilities, ", "))
	}
	if len(c.Concerns) > 0 {
		fmt.Fprintf(&b, "Concerns: %s\n", strings.Join(c.Concerns, ", "))
	}
	fmt.Fprintf(&b, "\nSummary: %s\n", c.Summary)
	return b.String()
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

const cycleContextSystemPrompt = `You are documenting a cyclic dependency group in a software codebase. ` +
	`Produce a single shared architectural summary covering the group's collective responsibility, ` +
	`why its members depend on each other, and the key abstractions, entry points, and utilities involved.`

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
