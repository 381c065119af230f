package chunker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codesync-dev/codesync/internal/chunker"
)

func TestFile_PythonSections(t *testing.T) {
	t.Parallel()

	content := strings.Join([]string{
		"import os",
		"",
		"def f(x):",
		"    return x + 1",
		"",
		"class Widget:",
		"    pass",
	}, "\n")

	chunks := chunker.File(content, chunker.LangPython, chunker.Options{})
	require.Len(t, chunks, 3)

	// Module prelude carries no section tag.
	assert.Equal(t, "", chunks[0].SectionType)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 2, chunks[0].EndLine)

	assert.Equal(t, "function", chunks[1].SectionType)
	assert.Equal(t, "f", chunks[1].SectionName)
	assert.Equal(t, 3, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)

	assert.Equal(t, "class", chunks[2].SectionType)
	assert.Equal(t, "Widget", chunks[2].SectionName)
	assert.Equal(t, 7, chunks[2].EndLine)
}

func TestFile_TypeScriptDeclarations(t *testing.T) {
	t.Parallel()

	content := strings.Join([]string{
		"export interface Point {",
		"  x: number",
		"}",
		"export async function load() {",
		"  return 1",
		"}",
		"const handler = async (req) => {",
		"  return req",
		"}",
	}, "\n")

	chunks := chunker.File(content, chunker.LangTypeScript, chunker.Options{})
	require.Len(t, chunks, 3)

	assert.Equal(t, "interface", chunks[0].SectionType)
	assert.Equal(t, "Point", chunks[0].SectionName)
	assert.Equal(t, "function", chunks[1].SectionType)
	assert.Equal(t, "load", chunks[1].SectionName)
	assert.Equal(t, "function", chunks[2].SectionType)
	assert.Equal(t, "handler", chunks[2].SectionName)
}

func TestFile_MarkdownHeadings(t *testing.T) {
	t.Parallel()

	content := strings.Join([]string{
		"# Title",
		"intro",
		"",
		"## Usage",
		"run it",
	}, "\n")

	chunks := chunker.File(content, chunker.LangMarkdown, chunker.Options{})
	require.Len(t, chunks, 2)

	assert.Equal(t, "section", chunks[0].SectionType)
	assert.Equal(t, "Title", chunks[0].SectionName)
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 3, chunks[0].EndLine)

	assert.Equal(t, "Usage", chunks[1].SectionName)
	assert.Equal(t, 4, chunks[1].StartLine)
	assert.Equal(t, 5, chunks[1].EndLine)
}

func TestFile_StructuredOverlapSplit(t *testing.T) {
	t.Parallel()

	var lines []string
	lines = append(lines, "def long(x):")

	for i := 1; i < 30; i++ {
		lines = append(lines, "    pass")
	}

	content := strings.Join(lines, "\n")
	opts := chunker.Options{MaxLines: 10, OverlapLines: 3}

	chunks := chunker.File(content, chunker.LangPython, opts)
	require.Greater(t, len(chunks), 1)

	// Second chunk starts inside the first chunk's tail.
	assert.Equal(t, chunks[0].EndLine-opts.OverlapLines+1, chunks[1].StartLine)

	// Overlap lines repeat byte-for-byte.
	firstTail := strings.Split(chunks[0].Content, "\n")
	firstTail = firstTail[len(firstTail)-opts.OverlapLines:]
	secondHead := strings.Split(chunks[1].Content, "\n")[:opts.OverlapLines]
	assert.Equal(t, firstTail, secondHead)

	// Every chunk keeps the enclosing function tag.
	for _, c := range chunks {
		assert.Equal(t, "function", c.SectionType)
		assert.Equal(t, "long", c.SectionName)
	}
}

func TestFile_GenericWindowCoversFile(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 0; i < 25; i++ {
		lines = append(lines, strings.Repeat("x", i+1))
	}

	content := strings.Join(lines, "\n")
	opts := chunker.Options{MaxLines: 10, OverlapLines: 2}

	chunks := chunker.File(content, "toml", opts)
	require.NotEmpty(t, chunks)

	// Non-overlapped regions cover the file contiguously.
	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 25, chunks[len(chunks)-1].EndLine)

	step := opts.MaxLines - opts.OverlapLines
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, step, chunks[i].StartLine-chunks[i-1].StartLine)
		assert.LessOrEqual(t, chunks[i].StartLine, chunks[i-1].EndLine+1)
	}
}

// Concatenating structured chunk bodies with overlap stripped
// reproduces the original text byte-for-byte.
func TestFile_StructuredRoundTrip(t *testing.T) {
	t.Parallel()

	var lines []string
	for i := 0; i < 3; i++ {
		lines = append(lines, "def f"+strings.Repeat("x", i)+"(a):")

		for j := 0; j < 20; j++ {
			lines = append(lines, "    line")
		}
	}

	content := strings.Join(lines, "\n")
	opts := chunker.Options{MaxLines: 15, OverlapLines: 4}

	chunks := chunker.File(content, chunker.LangPython, opts)
	require.NotEmpty(t, chunks)

	var rebuilt []string

	prevEnd := 0
	for _, c := range chunks {
		body := strings.Split(c.Content, "\n")

		skip := 0
		if c.StartLine <= prevEnd {
			skip = prevEnd - c.StartLine + 1
		}

		rebuilt = append(rebuilt, body[skip:]...)
		prevEnd = c.EndLine
	}

	assert.Equal(t, content, strings.Join(rebuilt, "\n"))
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"main.py", chunker.LangPython},
		{"app.tsx", chunker.LangTypeScript},
		{"index.jsx", chunker.LangJavaScript},
		{"README.md", chunker.LangMarkdown},
		{"lib.rs", "rust"},
		{"data.unknownext", chunker.LangGeneric},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, chunker.DetectLanguage(tt.path, nil), tt.path)
	}
}
