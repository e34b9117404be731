package fetch

import (
	"context"
	"fmt"
	"strings"
)

// ToolHandler adapts a Fetcher to the tool handler signature. The
// output is plain text with a small header so the model sees the title
// and source URL alongside the content.
func ToolHandler(f *Fetcher) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		url, _ := args["url"].(string)
		maxChars := 0
		if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
			maxChars = int(mc)
		}

		page, err := f.Fetch(ctx, url, maxChars)
		if err != nil {
			return "", err
		}

		var b strings.Builder
		if page.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", page.Title)
		}
		fmt.Fprintf(&b, "URL: %s\n\n", page.URL)
		b.WriteString(page.Text)
		if page.Truncated {
			b.WriteString("\n\n[content truncated]")
		}
		return b.String(), nil
	}
}

// ToolDefinition is the web_fetch JSON Schema.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch and extract readable text from.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters to return. Default: 50000.",
			},
		},
		"required": []string{"url"},
	}
}
