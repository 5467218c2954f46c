// Package chunking implements AST-aware source chunking for Go
// modules, producing parent/child retrieval.Chunk pairs: a
// module-level parent chunk (semantic anchor) and one child chunk per
// top-level declaration, linked by ParentID. Grounded on
// original_source/layer1/{chunker,hierarchical_chunker,parent_child_indexer}.py
// (syntax-unit chunking, parent/child relationship, oversized-chunk
// splitting) translated from Python's ast module onto go/ast — no pack
// library parses Go source into syntax-unit chunks, so the standard
// library is used directly (see DESIGN.md).
package chunking

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"github.com/basegraph-app/docweaver/internal/graph"
	"github.com/basegraph-app/docweaver/internal/retrieval"
)

// maxChunkLines mirrors hierarchical_chunker.py's oversized-chunk
// threshold (there measured in tokens; here in lines, since Go
// declarations rarely need token-level windowing to stay LLM-prompt
// sized).
const maxChunkLines = 400

// ChunkModule parses one Go source file's content and returns its
// parent chunk (the module header, always chunk index 0) followed by
// one child chunk per top-level function/method/type declaration.
func ChunkModule(moduleID graph.ModuleID, filePath, source string) ([]retrieval.Chunk, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, source, parser.ParseComments)
	if err != nil {
		return fallbackChunk(moduleID, filePath, source), nil
	}

	lines := strings.Split(source, "\n")
	parentID := fmt.Sprintf("%s:module", moduleID)

	chunks := []retrieval.Chunk{
		{
			ID:         parentID,
			ModuleID:   string(moduleID),
			EntityName: file.Name.Name,
			Kind:       "module",
			Code:       headerSource(lines, file, fset),
			Doc:        packageDoc(file),
			FilePath:   filePath,
			StartLine:  1,
			EndLine:    fset.Position(file.Name.End()).Line,
		},
	}

	for _, decl := range file.Decls {
		child, ok := chunkDecl(moduleID, filePath, parentID, lines, fset, decl)
		if !ok {
			continue
		}
		chunks = append(chunks, splitIfGiant(child)...)
	}

	return chunks, nil
}

func chunkDecl(moduleID graph.ModuleID, filePath, parentID string, lines []string, fset *token.FileSet, decl ast.Decl) (retrieval.Chunk, bool) {
	switch d := decl.(type) {
	case *ast.FuncDecl:
		name := d.Name.Name
		if d.Recv != nil && len(d.Recv.List) > 0 {
			name = receiverName(d.Recv.List[0].Type) + "." + name
		}
		start, end := fset.Position(d.Pos()).Line, fset.Position(d.End()).Line
		return retrieval.Chunk{
			ID:         fmt.Sprintf("%s:%s", moduleID, name),
			ModuleID:   string(moduleID),
			ParentID:   parentID,
			EntityName: name,
			Kind:       kindOf(d),
			Code:       sliceLines(lines, start, end),
			Doc:        d.Doc.Text(),
			FilePath:   filePath,
			StartLine:  start,
			EndLine:    end,
		}, true
	case *ast.GenDecl:
		if d.Tok != token.TYPE {
			return retrieval.Chunk{}, false
		}
		for _, spec := range d.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			start, end := fset.Position(d.Pos()).Line, fset.Position(d.End()).Line
			doc := d.Doc.Text()
			if doc == "" {
				doc = ts.Doc.Text()
			}
			return retrieval.Chunk{
				ID:         fmt.Sprintf("%s:%s", moduleID, ts.Name.Name),
				ModuleID:   string(moduleID),
				ParentID:   parentID,
				EntityName: ts.Name.Name,
				Kind:       "type",
				Code:       sliceLines(lines, start, end),
				Doc:        doc,
				FilePath:   filePath,
				StartLine:  start,
				EndLine:    end,
			}, true
		}
	}
	return retrieval.Chunk{}, false
}

// splitIfGiant mirrors hierarchical_chunker.py's _split_into_windows:
// a declaration far larger than a reasonable prompt window is split
// into overlapping line-range windows, each keeping the parent link
// and entity name so retrieval still resolves back to one logical
// unit.
func splitIfGiant(c retrieval.Chunk) []retrieval.Chunk {
	lineCount := c.EndLine - c.StartLine + 1
	if lineCount <= maxChunkLines {
		return []retrieval.Chunk{c}
	}

	lines := strings.Split(c.Code, "\n")
	overlap := maxChunkLines / 2
	var windows []retrieval.Chunk
	for start := 0; start < len(lines); start += maxChunkLines - overlap {
		end := start + maxChunkLines
		if end > len(lines) {
			end = len(lines)
		}
		windows = append(windows, retrieval.Chunk{
			ID:         fmt.Sprintf("%s#%d", c.ID, len(windows)),
			ModuleID:   c.ModuleID,
			ParentID:   c.ParentID,
			EntityName: c.EntityName,
			Kind:       c.Kind,
			Code:       strings.Join(lines[start:end], "\n"),
			Doc:        c.Doc,
			FilePath:   c.FilePath,
			StartLine:  c.StartLine + start,
			EndLine:    c.StartLine + end - 1,
		})
		if end == len(lines) {
			break
		}
	}
	return windows
}

func kindOf(d *ast.FuncDecl) string {
	if d.Recv != nil && len(d.Recv.List) > 0 {
		return "method"
	}
	return "function"
}

func receiverName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverName(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

func packageDoc(file *ast.File) string {
	if file.Doc != nil {
		return file.Doc.Text()
	}
	return ""
}

func headerSource(lines []string, file *ast.File, fset *token.FileSet) string {
	end := fset.Position(file.Name.End()).Line
	if end > len(lines) {
		end = len(lines)
	}
	return sliceLines(lines, 1, end)
}

func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// fallbackChunk mirrors chunker.py's syntax-error fallback: emit the
// whole file as one unparsed chunk rather than failing the module.
func fallbackChunk(moduleID graph.ModuleID, filePath, source string) []retrieval.Chunk {
	lines := strings.Split(source, "\n")
	return []retrieval.Chunk{{
		ID:         fmt.Sprintf("%s:file", moduleID),
		ModuleID:   string(moduleID),
		EntityName: string(moduleID),
		Kind:       "file",
		Code:       source,
		FilePath:   filePath,
		StartLine:  1,
		EndLine:    len(lines),
	}}
}
