package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// Fields carries structured attributes that are automatically attached to
// every log record emitted within a context. Fields flow through context
// enrichment so a module id, SCC id, or section id set once at task
// dispatch shows up on every downstream log line without threading it
// through every function signature.
type Fields struct {
	RunID      string
	ModuleID   string
	SccID      string
	SectionID  string
	Component  string
	Phase      string
}

// With enriches ctx with fields, merging with any fields already present.
// Non-empty values in fields take precedence over existing ones.
func With(ctx context.Context, fields Fields) context.Context {
	merged := merge(From(ctx), fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// From retrieves the structured fields attached to ctx, or a zero value.
func From(ctx context.Context) Fields {
	if f, ok := ctx.Value(logFieldsKey).(Fields); ok {
		return f
	}
	return Fields{}
}

func merge(existing, next Fields) Fields {
	result := existing
	if next.RunID != "" {
		result.RunID = next.RunID
	}
	if next.ModuleID != "" {
		result.ModuleID = next.ModuleID
	}
	if next.SccID != "" {
		result.SccID = next.SccID
	}
	if next.SectionID != "" {
		result.SectionID = next.SectionID
	}
	if next.Component != "" {
		result.Component = next.Component
	}
	if next.Phase != "" {
		result.Phase = next.Phase
	}
	return result
}

// Truncate shortens s to maxLen characters, appending "..." when cut.
// Useful for logging prompts, drafts, or feedback strings without
// flooding the log stream.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
