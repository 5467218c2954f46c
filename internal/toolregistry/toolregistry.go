// Package toolregistry holds the five fixed adaptive tools ModulePipeline
// exposes to the model during its multi-turn write conversation:
// get_function_details, get_class_details, get_module_overview,
// find_usage_patterns, get_dependency_exports. Grounded on
// codegraph/golang/assistant/tool_registry.go's Add/Handle/Definitions
// registry shape, reshaped onto common/llmtransport.Tool instead of its
// OpenAI Responses-API-specific ToolDefinition.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basegraph-app/docweaver/common/llmtransport"
	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/retrieval"
)

// Handler executes one tool call and returns the text to feed back to the
// model as the tool-role message content.
type Handler func(ctx context.Context, args json.RawMessage) (string, error)

// Registry stores tool schemas alongside their handlers, and encodes the
// schema set for an llmtransport.ToolRequest.
type Registry struct {
	defs     []llmtransport.Tool
	handlers map[string]Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Add(def llmtransport.Tool, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("toolregistry: tool name is required")
	}
	if _, exists := r.handlers[def.Name]; exists {
		return fmt.Errorf("toolregistry: tool %s already registered", def.Name)
	}
	r.defs = append(r.defs, def)
	r.handlers[def.Name] = handler
	return nil
}

// Definitions returns the tool schema set for an llmtransport.ToolRequest.
func (r *Registry) Definitions() []llmtransport.Tool {
	return append([]llmtransport.Tool(nil), r.defs...)
}

// Handle dispatches a single model-requested tool call.
func (r *Registry) Handle(ctx context.Context, name string, args json.RawMessage) (string, error) {
	handler, ok := r.handlers[name]
	if !ok {
		return "", fmt.Errorf("toolregistry: no handler registered for tool %s", name)
	}
	return handler(ctx, args)
}

// BuildDefault registers the five fixed adaptive tools against the given
// module's dependency set, backed by a graph.EntitySource (for
// function/class/module introspection and export lookups) and a
// retrieval.Service (for cross-codebase usage search). The module's own
// imports bound get_dependency_exports to its real dependency set only —
// the model cannot walk the import graph arbitrarily.
func BuildDefault(entities graph.EntitySource, search retrieval.Service, g *graph.DependencyGraph, moduleID graph.ModuleID) (*Registry, error) {
	r := New()

	if err := r.Add(llmtransport.Tool{
		Name:        "get_function_details",
		Description: "Return the full signature, doc comment, and source body of a named function or method in the current module.",
		Parameters:  functionArgsSchema(),
	}, handleGetFunctionDetails(entities, moduleID)); err != nil {
		return nil, err
	}

	if err := r.Add(llmtransport.Tool{
		Name:        "get_class_details",
		Description: "Return the doc comment and full definition (including fields) of a named type in the current module; its methods are not listed.",
		Parameters:  functionArgsSchema(),
	}, handleGetClassDetails(entities, moduleID)); err != nil {
		return nil, err
	}

	if err := r.Add(llmtransport.Tool{
		Name:        "get_module_overview",
		Description: "Return a summary of every exported entity declared by the current module.",
		Parameters:  noArgsSchema(),
	}, handleGetModuleOverview(entities, moduleID)); err != nil {
		return nil, err
	}

	if err := r.Add(llmtransport.Tool{
		Name:        "find_usage_patterns",
		Description: "Search the indexed codebase for call sites and usage examples of a named entity.",
		Parameters:  functionArgsSchema(),
	}, handleFindUsagePatterns(search)); err != nil {
		return nil, err
	}

	if err := r.Add(llmtransport.Tool{
		Name:        "get_dependency_exports",
		Description: "Return the top exported entities of one of the current module's direct dependencies.",
		Parameters:  dependencyArgsSchema(),
	}, handleGetDependencyExports(entities, g, moduleID)); err != nil {
		return nil, err
	}

	return r, nil
}

type nameArgs struct {
	Name string `json:"name"`
}

type dependencyArgs struct {
	ModuleID string `json:"module_id"`
}

func functionArgsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"name": map[string]any{"type": "string"}},
		"required":             []string{"name"},
		"additionalProperties": false,
	}
}

func noArgsSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
}

func dependencyArgsSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"module_id": map[string]any{"type": "string"},
		},
		"required":             []string{"module_id"},
		"additionalProperties": false,
	}
}

func handleGetFunctionDetails(entities graph.EntitySource, moduleID graph.ModuleID) Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var args nameArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("parse get_function_details args: %w", err)
		}
		all, err := entities.Entities(ctx, moduleID)
		if err != nil {
			return "", fmt.Errorf("load entities: %w", err)
		}
		for _, e := range all {
			if e.Name == args.Name && (e.Kind == "function" || e.Kind == "method") {
				return formatEntity(e), nil
			}
		}
		return fmt.Sprintf("no function or method named %q found in this module", args.Name), nil
	}
}

func handleGetClassDetails(entities graph.EntitySource, moduleID graph.ModuleID) Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var args nameArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("parse get_class_details args: %w", err)
		}
		all, err := entities.Entities(ctx, moduleID)
		if err != nil {
			return "", fmt.Errorf("load entities: %w", err)
		}
		for _, e := range all {
			if e.Name == args.Name && (e.Kind == "type" || e.Kind == "interface") {
				return formatEntity(e), nil
			}
		}
		return fmt.Sprintf("no type named %q found in this module", args.Name), nil
	}
}

func handleGetModuleOverview(entities graph.EntitySource, moduleID graph.ModuleID) Handler {
	return func(ctx context.Context, _ json.RawMessage) (string, error) {
		exports, err := entities.Exports(ctx, moduleID)
		if err != nil {
			return "", fmt.Errorf("load exports: %w", err)
		}
		if len(exports) == 0 {
			return "this module has no exported entities", nil
		}
		out := ""
		for _, e := range exports {
			out += fmt.Sprintf("- %s %s: %s\n", e.Kind, e.Name, firstLine(e.Doc))
		}
		return out, nil
	}
}

func handleFindUsagePatterns(search retrieval.Service) Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var args nameArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("parse find_usage_patterns args: %w", err)
		}
		hits, err := search.SearchUsages(ctx, args.Name, 5)
		if err != nil {
			return "", fmt.Errorf("search usages: %w", err)
		}
		if len(hits) == 0 {
			return fmt.Sprintf("no usages of %q found in the indexed codebase", args.Name), nil
		}
		out := ""
		for _, c := range hits {
			out += fmt.Sprintf("--- %s (%s:%d) ---\n%s\n", c.EntityName, c.FilePath, c.StartLine, c.Code)
		}
		return out, nil
	}
}

func handleGetDependencyExports(entities graph.EntitySource, g *graph.DependencyGraph, moduleID graph.ModuleID) Handler {
	return func(ctx context.Context, raw json.RawMessage) (string, error) {
		var args dependencyArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return "", fmt.Errorf("parse get_dependency_exports args: %w", err)
		}

		dep := graph.ModuleID(args.ModuleID)
		allowed := false
		for _, d := range g.Deps(moduleID) {
			if d == dep {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Sprintf("%q is not a direct dependency of this module", args.ModuleID), nil
		}

		exports, err := entities.Exports(ctx, dep)
		if err != nil {
			return "", fmt.Errorf("load dependency exports: %w", err)
		}
		if len(exports) > 3 {
			exports = exports[:3]
		}
		if len(exports) == 0 {
			return fmt.Sprintf("%s exports nothing", args.ModuleID), nil
		}
		out := ""
		for _, e := range exports {
			out += fmt.Sprintf("- %s %s: %s\n", e.Kind, e.Name, e.Signature)
		}
		return out, nil
	}
}

func formatEntity(e graph.Entity) string {
	src := e.Source
	if src == "" {
		src = e.Signature
	}
	return fmt.Sprintf("%s\n%s", e.Doc, src)
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
