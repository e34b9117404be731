package tools

import (
	"context"

	"github.com/masonworks/mason-code-agent/internal/forge"
)

// SetForgeTools adds the github_* tools to the registry. They are
// read-only: the agent can inspect issues, pull requests, and search
// results but never writes to the forge.
func (r *Registry) SetForgeTools(ft *forge.Tools) {
	r.forgeTools = ft
	r.registerForgeTools()
}

func (r *Registry) registerForgeTools() {
	if r.forgeTools == nil {
		return
	}

	r.Register(&Tool{
		Name:        "github_get_issue",
		Description: "Fetch a single GitHub issue by number, including labels, assignees, and body.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":   map[string]any{"type": "string", "description": "Repository in owner/repo format (e.g. acme/myapp)"},
				"number": map[string]any{"type": "integer", "description": "Issue number"},
			},
			"required": []string{"repo", "number"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return r.forgeTools.HandleGetIssue(ctx, args)
		},
	})

	r.Register(&Tool{
		Name:        "github_list_issues",
		Description: "List issues in a GitHub repository. Supports filtering by state, labels, and assignee.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":      map[string]any{"type": "string", "description": "Repository in owner/repo format"},
				"state":     map[string]any{"type": "string", "enum": []string{"open", "closed", "all"}, "description": "Issue state filter (default: open)"},
				"labels":    map[string]any{"type": "string", "description": "Comma-separated label names to filter by"},
				"assignee":  map[string]any{"type": "string", "description": "Filter by assignee username"},
				"sort":      map[string]any{"type": "string", "description": "Sort field: created, updated, comments"},
				"direction": map[string]any{"type": "string", "enum": []string{"asc", "desc"}, "description": "Sort direction"},
				"limit":     map[string]any{"type": "integer", "description": "Maximum results to return"},
				"page":      map[string]any{"type": "integer", "description": "Page number for pagination"},
			},
			"required": []string{"repo"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return r.forgeTools.HandleListIssues(ctx, args)
		},
	})

	r.Register(&Tool{
		Name:        "github_get_pr",
		Description: "Fetch details of a single pull request including branches, change counts, and merge status.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":   map[string]any{"type": "string", "description": "Repository in owner/repo format"},
				"number": map[string]any{"type": "integer", "description": "PR number"},
			},
			"required": []string{"repo", "number"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return r.forgeTools.HandleGetPR(ctx, args)
		},
	})

	r.Register(&Tool{
		Name:        "github_pr_diff",
		Description: "Retrieve the raw unified diff for a pull request. Use max_lines to cap output size.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"repo":      map[string]any{"type": "string", "description": "Repository in owner/repo format"},
				"number":    map[string]any{"type": "integer", "description": "PR number"},
				"max_lines": map[string]any{"type": "integer", "description": "Truncate diff after this many lines (default 2000)"},
			},
			"required": []string{"repo", "number"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return r.forgeTools.HandlePRDiff(ctx, args)
		},
	})

	r.Register(&Tool{
		Name:        "github_search",
		Description: "Search GitHub for issues, code, or commits matching a query (GitHub search syntax).",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search query string, e.g. 'repo:acme/myapp panic in:title'"},
				"kind":  map[string]any{"type": "string", "enum": []string{"issues", "code", "commits"}, "description": "Type of entity to search (default: issues)"},
				"limit": map[string]any{"type": "integer", "description": "Maximum results to return (default 30)"},
			},
			"required": []string{"query"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return r.forgeTools.HandleSearch(ctx, args)
		},
	})
}
