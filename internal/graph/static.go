// StaticAnalyzer walks a Go module tree with golang.org/x/tools/go/packages,
// builds the import graph, and, when a GraphStore is set, persists
// nodes/edges into ArangoDB; entity and export lookups re-parse the source
// tree and do not read from the store — grounded on
// codegraph/golang/process/{ingest,orchestrate}.go, which runs the same
// "extract with go/packages-style tooling, then ingest into ArangoDB"
// sequence for its own code-graph prototype.
package graph

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/packages"
)

// StaticAnalyzer implements Analyzer and EntitySource over a real Go
// module tree rooted at Root.
type StaticAnalyzer struct {
	Root  string
	Store GraphStore // optional; nil disables persistence
}

// GraphStore is the subset of an ArangoDB-backed graph store the analyzer
// needs to persist the extracted node/edge set. The analyzer only writes
// to it: Entities and Exports re-walk the source tree on every call.
type GraphStore interface {
	EnsureSchema(ctx context.Context) error
	IngestModules(ctx context.Context, modules []Module) error
	IngestEntities(ctx context.Context, moduleID ModuleID, entities []Entity) error
}

func NewStaticAnalyzer(root string, store GraphStore) *StaticAnalyzer {
	return &StaticAnalyzer{Root: root, Store: store}
}

func (a *StaticAnalyzer) Analyze(ctx context.Context) (*DependencyGraph, error) {
	cfg := &packages.Config{
		Context: ctx,
		Mode:    packages.NeedName | packages.NeedImports | packages.NeedDeps | packages.NeedFiles,
		Dir:     a.Root,
	}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		return nil, fmt.Errorf("load packages under %s: %w", a.Root, err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		slog.WarnContext(ctx, "graph: some packages failed to load cleanly, continuing with partial graph")
	}

	modules := make([]Module, 0, len(pkgs))
	known := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		known[p.PkgPath] = true
	}

	for _, p := range pkgs {
		if len(p.GoFiles) == 0 {
			continue
		}
		var imports []ModuleID
		for path := range p.Imports {
			if known[path] {
				imports = append(imports, ModuleID(path))
			}
		}
		modules = append(modules, Module{
			ID:         ModuleID(p.PkgPath),
			SourcePath: filepath.Dir(p.GoFiles[0]),
			Imports:    imports,
		})
	}

	if a.Store != nil {
		if err := a.Store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure graph schema: %w", err)
		}
		if err := a.Store.IngestModules(ctx, modules); err != nil {
			return nil, fmt.Errorf("ingest modules into graph store: %w", err)
		}
	}

	return Build(modules), nil
}

func (a *StaticAnalyzer) Entities(ctx context.Context, m ModuleID) ([]Entity, error) {
	dir, err := a.dirFor(ctx, m)
	if err != nil {
		return nil, err
	}

	entities, err := parseEntities(dir)
	if err != nil {
		return nil, err
	}

	if a.Store != nil {
		if err := a.Store.IngestEntities(ctx, m, entities); err != nil {
			slog.WarnContext(ctx, "graph: failed to persist entities", "module", m, "err", err)
		}
	}
	return entities, nil
}

func (a *StaticAnalyzer) Exports(ctx context.Context, m ModuleID) ([]Entity, error) {
	all, err := a.Entities(ctx, m)
	if err != nil {
		return nil, err
	}
	exported := make([]Entity, 0, len(all))
	for _, e := range all {
		if ast.IsExported(e.Name) {
			exported = append(exported, e)
		}
	}
	return exported, nil
}

func (a *StaticAnalyzer) dirFor(ctx context.Context, m ModuleID) (string, error) {
	g, err := a.Analyze(ctx)
	if err != nil {
		return "", err
	}
	dir := g.SourcePath(m)
	if dir == "" {
		return "", fmt.Errorf("unknown module %s", m)
	}
	return dir, nil
}

// parseEntities extracts top-level function, method, and type declarations
// from every.go file in dir using go/ast — the idiomatic, dependency-free
// way to walk Go syntax; no tree-sitter grammar in the pack targets Go
// (see DESIGN.md).
func parseEntities(dir string) ([]Entity, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	fset := token.NewFileSet()
	var entities []Entity

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".go") || strings.HasSuffix(f.Name(), "_test.go") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
		if err != nil {
			slog.Warn("graph: skipping file with parse error", "file", path, "err", err)
			continue
		}

		for _, decl := range file.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				entities = append(entities, funcEntity(fset, src, d))
			case *ast.GenDecl:
				if d.Tok != token.TYPE {
					continue
				}
				for _, spec := range d.Specs {
					ts, ok := spec.(*ast.TypeSpec)
					if !ok {
						continue
					}
					entities = append(entities, typeEntity(fset, src, d, ts))
				}
			}
		}
	}
	return entities, nil
}

func funcEntity(fset *token.FileSet, src []byte, d *ast.FuncDecl) Entity {
	start, end := fset.Position(d.Pos()), fset.Position(d.End())
	kind := "function"
	if d.Recv != nil {
		kind = "method"
	}
	return Entity{
		Name:      d.Name.Name,
		Kind:      kind,
		Doc:       d.Doc.Text(),
		Signature: signatureOf(d),
		Source:    string(src[start.Offset:end.Offset]),
		StartLine: start.Line,
		EndLine:   end.Line,
	}
}

func typeEntity(fset *token.FileSet, src []byte, d *ast.GenDecl, ts *ast.TypeSpec) Entity {
	start, end := fset.Position(d.Pos()), fset.Position(d.End())
	kind := "type"
	if _, ok := ts.Type.(*ast.InterfaceType); ok {
		kind = "interface"
	}
	doc := d.Doc.Text()
	if doc == "" && ts.Doc != nil {
		doc = ts.Doc.Text()
	}
	return Entity{
		Name:      ts.Name.Name,
		Kind:      kind,
		Doc:       doc,
		Signature: ts.Name.Name,
		Source:    string(src[start.Offset:end.Offset]),
		StartLine: start.Line,
		EndLine:   end.Line,
	}
}

func signatureOf(d *ast.FuncDecl) string {
	var b strings.Builder
	b.WriteString("func ")
	if d.Recv != nil && len(d.Recv.List) > 0 {
		b.WriteString("(recv) ")
	}
	b.WriteString(d.Name.Name)
	b.WriteString("(...)")
	return b.String()
}

var (
	_ Analyzer     = (*StaticAnalyzer)(nil)
	_ EntitySource = (*StaticAnalyzer)(nil)
)
