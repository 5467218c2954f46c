package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `// Package widget does widget things.
package widget

// Widget holds parsed widget state.
type Widget struct {
	Name string
}

// Parse parses s into a Widget.
func Parse(s string) (*Widget, error) {
	return &Widget{Name: s}, nil
}

func (w *Widget) String() string {
	return w.Name
}
`

func TestChunkModule_ProducesParentAndChildren(t *testing.T) {
	chunks, err := ChunkModule("app/widget", "widget.go", sampleSource)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 4)

	parent := chunks[0]
	assert.Equal(t, "module", parent.Kind)
	assert.Equal(t, "app/widget:module", parent.ID)
	assert.Contains(t, parent.Doc, "does widget things")

	var names []string
	for _, c := range chunks[1:] {
		names = append(names, c.EntityName)
		assert.Equal(t, parent.ID, c.ParentID)
	}
	assert.Contains(t, names, "Widget")
	assert.Contains(t, names, "Parse")
	assert.Contains(t, names, "Widget.String")
}

func TestChunkModule_FunctionDocCaptured(t *testing.T) {
	chunks, err := ChunkModule("app/widget", "widget.go", sampleSource)
	require.NoError(t, err)

	for _, c := range chunks {
		if c.EntityName == "Parse" {
			assert.Contains(t, c.Doc, "Parse parses s into a Widget")
			assert.Contains(t, c.Code, "func Parse(s string)")
			return
		}
	}
	t.Fatal("Parse chunk not found")
}

func TestChunkModule_MethodKindIsMethod(t *testing.T) {
	chunks, err := ChunkModule("app/widget", "widget.go", sampleSource)
	require.NoError(t, err)

	for _, c := range chunks {
		if c.EntityName == "Widget.String" {
			assert.Equal(t, "method", c.Kind)
			return
		}
	}
	t.Fatal("Widget.String chunk not found")
}

func TestChunkModule_SyntaxErrorFallsBackToFileChunk(t *testing.T) {
	chunks, err := ChunkModule("app/broken", "broken.go", "this is not valid go source {{{")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "file", chunks[0].Kind)
}

func TestSplitIfGiant_SplitsOversizedDeclaration(t *testing.T) {
	var b strings.Builder
	b.WriteString("func Big() {\n")
	for i := 0; i < maxChunkLines+100; i++ {
		b.WriteString("\t_ = 1\n")
	}
	b.WriteString("}\n")
	src := "package p\n\n" + b.String()

	chunks, err := ChunkModule("app/big", "big.go", src)
	require.NoError(t, err)

	var windows int
	for _, c := range chunks {
		if c.EntityName == "Big" {
			windows++
		}
	}
	assert.Greater(t, windows, 1)
}
