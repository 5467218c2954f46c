package modulepipeline

import (
	"fmt"
	"strings"

	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/retrieval"
)

const moduleWriteSystemPrompt = `You are a senior engineer writing internal documentation for one module of a codebase. Respond only with the structured fields requested. Be precise about what the module is responsible for and how it uses its dependencies; do not restate the file layout.`

const reviewSystemPrompt = `You are reviewing a draft of module documentation for accuracy and completeness against the module's actual source and its dependencies' documented responsibilities. Respond with {"passed": bool, "feedback": string}. Fail the draft if it misstates a dependency's role, invents functionality not present in the source, or omits an exported entity central to the module's purpose. Keep feedback short and actionable, naming the specific entities or dependencies at issue.`

func staticWritePrompt(task Task, chunks []retrieval.Chunk, neighbors []retrieval.Chunk, retryFeedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s\n\n", task.ModuleID)

	if task.SccContext != nil {
		fmt.Fprintf(&b, "This module is part of a cyclic group of mutually dependent modules. Group context:\n%s\n\n", task.SccContext.Text)
	}

	if len(task.DependencyArtifacts) > 0 {
		b.WriteString("Dependency summaries (already documented):\n")
		for _, d := range task.DependencyArtifacts {
			fmt.Fprintf(&b, "- %s: %s\n", d.ModuleID, d.Summary)
		}
		b.WriteString("\n")
	}

	b.WriteString("Source code of this module:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "--- %s (%s:%d) ---\n%s\n\n", c.EntityName, c.FilePath, c.StartLine, c.Code)
	}

	if len(neighbors) > 0 {
		b.WriteString("Related code elsewhere in the codebase, for context only:\n")
		for _, n := range neighbors {
			fmt.Fprintf(&b, "--- %s.%s ---\n%s\n\n", n.ModuleID, n.EntityName, n.Code)
		}
	}

	if retryFeedback != "" {
		fmt.Fprintf(&b, "A prior draft was rejected by review with this feedback — address it directly:\n%s\n\n", retryFeedback)
	}

	b.WriteString("Produce: summary, responsibility, key_functions (name + purpose for the most important few), dependency_usage (how this module actually uses each dependency above), and exports (one line per significant exported entity).")
	return b.String()
}

func adaptiveOpeningPrompt(task Task, entities []graph.Entity, retryFeedback, expandedContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s\n\n", task.ModuleID)

	if task.SccContext != nil {
		fmt.Fprintf(&b, "This module is part of a cyclic group of mutually dependent modules. Group context:\n%s\n\n", task.SccContext.Text)
	}

	if len(task.DependencyArtifacts) > 0 {
		b.WriteString("Dependency summaries (already documented):\n")
		for _, d := range task.DependencyArtifacts {
			fmt.Fprintf(&b, "- %s: %s\n", d.ModuleID, d.Summary)
		}
		b.WriteString("\n")
	}

	b.WriteString("This module declares the following entities (signatures only — use the provided tools to fetch full details, usages, or a dependency's exports as needed):\n")
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s %s: %s\n", e.Kind, e.Name, firstLine(e.Doc))
	}
	b.WriteString("\n")

	if expandedContext != "" {
		fmt.Fprintf(&b, "Additional context fetched for entities referenced in prior review feedback:\n%s\n\n", expandedContext)
	}
	if retryFeedback != "" {
		fmt.Fprintf(&b, "A prior draft was rejected by review with this feedback — address it directly:\n%s\n\n", retryFeedback)
	}

	b.WriteString("Use the available tools as needed, then respond with the final structured fields: summary, responsibility, key_functions, dependency_usage, exports.")
	return b.String()
}

func reviewPrompt(task Task, draft graph.ModuleArtifact, chunks []retrieval.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Module: %s\n\n", task.ModuleID)

	b.WriteString("Draft documentation:\n")
	fmt.Fprintf(&b, "Summary: %s\n", draft.Summary)
	fmt.Fprintf(&b, "Responsibility: %s\n", draft.Responsibility)
	for _, k := range draft.KeyFunctions {
		fmt.Fprintf(&b, "- %s: %s\n", k.Name, k.Purpose)
	}
	fmt.Fprintf(&b, "Dependency usage: %s\n", draft.DependencyUsage)
	fmt.Fprintf(&b, "Exports: %s\n\n", draft.Exports)

	b.WriteString("Actual source for reference:\n")
	for _, c := range chunks {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", c.EntityName, c.Code)
	}

	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
