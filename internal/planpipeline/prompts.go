package planpipeline

import (
	"fmt"
	"strings"
)

const planGenerationSystemPrompt = `You are a technical writer designing the structure of a project's documentation. Respond only with the requested DocPlan JSON: projectType, audience, primaryUseCase, architecturePattern, sections (each with id, title, purpose, style, maxTokens, contextRefs, dependsOn), and glossary. Sections must form an acyclic dependency graph via dependsOn.`

const planReviewSystemPrompt = `You are reviewing a documentation plan for ordering sanity, presence of critical sections (an overview and an entry point or API reference), and syntactically valid context references. Respond with {"plan_valid": bool, "feedback": string}.`

const sectionWriteSystemPrompt = `You are writing one section of project documentation. Use only the context provided; do not invent functionality. Respond with the section's prose content only, no surrounding headers.`

func planGenerationPrompt(summary ProjectSummary, feedback string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project structure:\n%s\n\n", summary.Tree)
	fmt.Fprintf(&b, "Modules: %d, Folders: %d, Cyclic groups: %d\n\n", summary.ModuleCount, summary.FolderCount, summary.CycleCount)
	if len(summary.ConfigFiles) > 0 {
		fmt.Fprintf(&b, "Config files: %s\n\n", strings.Join(summary.ConfigFiles, ", "))
	}
	if summary.EntryPointPreview != "" {
		fmt.Fprintf(&b, "Entry point preview:\n%s\n\n", summary.EntryPointPreview)
	}
	if feedback != "" {
		fmt.Fprintf(&b, "A prior plan was rejected by review with this feedback — address it directly:\n%s\n\n", feedback)
	}
	b.WriteString("Produce a DocPlan covering this project's structure and public surface.")
	return b.String()
}

func planReviewPrompt(plan DocPlan, summary ProjectSummary) string {
	var b strings.Builder
	b.WriteString("Proposed plan:\n")
	for _, s := range plan.Sections {
		fmt.Fprintf(&b, "- %s (%s): %s, depends on %v, refs %v\n", s.ID, s.Style, s.Purpose, s.DependsOn, s.ContextRefs)
	}
	fmt.Fprintf(&b, "\nProject has %d modules across %d folders, %d cyclic groups.\n", summary.ModuleCount, summary.FolderCount, summary.CycleCount)
	return b.String()
}

func sectionWritePrompt(section Section, resolvedContext string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Section: %s\nPurpose: %s\nStyle: %s\n\n", section.Title, section.Purpose, section.Style)
	b.WriteString("Context:\n")
	b.WriteString(resolvedContext)
	b.WriteString("\n\nWrite this section now.")
	return b.String()
}
