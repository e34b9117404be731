// Package docs gives the model a cheap way to survey project
// documentation: the doc_outline tool parses a workspace markdown file
// and returns its heading structure instead of the whole text.
package docs

import (
	"context"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Section is one heading in a markdown document.
type Section struct {
	// Level is the heading depth, 1 through 6.
	Level int
	// Title is the heading's rendered text.
	Title string
	// Line is the 1-indexed source line the heading starts on.
	Line int
}

// Outline parses markdown source and returns its headings in document
// order. Content with no headings returns an empty slice.
func Outline(source []byte) ([]Section, error) {
	parser := goldmark.New().Parser()
	doc := parser.Parse(text.NewReader(source))

	var sections []Section
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		sections = append(sections, Section{
			Level: heading.Level,
			Title: headingText(heading, source),
			Line:  headingLine(heading, source),
		})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk markdown: %w", err)
	}
	return sections, nil
}

// headingText flattens a heading's inline children to plain text.
func headingText(heading *ast.Heading, source []byte) string {
	var b strings.Builder
	for c := heading.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			continue
		}
		b.Write(c.Text(source))
	}
	return strings.TrimSpace(b.String())
}

// headingLine converts the heading's first segment offset into a
// 1-indexed line number.
func headingLine(heading *ast.Heading, source []byte) int {
	lines := heading.Lines()
	if lines.Len() == 0 {
		return 0
	}
	start := lines.At(0).Start
	line := 1
	for _, c := range source[:start] {
		if c == '\n' {
			line++
		}
	}
	return line
}

// Format renders sections as an indented outline, one heading per line
// with its source line number.
func Format(path string, sections []Section) string {
	if len(sections) == 0 {
		return fmt.Sprintf("%s: no headings found", path)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Outline of %s:\n", path)
	for _, s := range sections {
		indent := strings.Repeat("  ", s.Level-1)
		fmt.Fprintf(&b, "%s- %s (line %d)\n", indent, s.Title, s.Line)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ToolHandler adapts Outline to the tool handler signature. read is
// the workspace-scoped file reader so doc_outline honors the same path
// rules as the file tools.
func ToolHandler(read func(ctx context.Context, path string) (string, error)) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		path, _ := args["path"].(string)
		if path == "" {
			return "", fmt.Errorf("path is required")
		}
		content, err := read(ctx, path)
		if err != nil {
			return "", err
		}
		sections, err := Outline([]byte(content))
		if err != nil {
			return "", err
		}
		return Format(path, sections), nil
	}
}

// ToolDefinition is the doc_outline JSON Schema.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Workspace-relative path of a markdown file.",
			},
		},
		"required": []string{"path"},
	}
}
