package forge

import (
	"context"
	"fmt"
	"strings"
)

// defaultDiffLines caps github_pr_diff output when the caller does not
// pass max_lines.
const defaultDiffLines = 2000

// Tools exposes forge lookups as tool handlers. Each Handle* method
// takes the raw argument map from the registry and returns text shaped
// for the model.
type Tools struct {
	provider Provider
}

// NewTools creates forge tools backed by provider.
func NewTools(provider Provider) *Tools {
	return &Tools{provider: provider}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

// intArg reads a numeric argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string) int {
	v, _ := args[key].(float64)
	return int(v)
}

// repoArg extracts the repo argument and checks it is owner/name.
func repoArg(args map[string]any) (string, error) {
	repo := stringArg(args, "repo")
	if repo == "" {
		return "", fmt.Errorf("repo is required")
	}
	if _, _, err := parseRepo(repo); err != nil {
		return "", err
	}
	return repo, nil
}

// numberArg extracts the required issue/PR number.
func numberArg(args map[string]any) (int, error) {
	n := intArg(args, "number")
	if n == 0 {
		return 0, fmt.Errorf("number is required")
	}
	return n, nil
}

// HandleGetIssue implements github_get_issue.
func (t *Tools) HandleGetIssue(ctx context.Context, args map[string]any) (string, error) {
	repo, err := repoArg(args)
	if err != nil {
		return "", err
	}
	number, err := numberArg(args)
	if err != nil {
		return "", err
	}

	issue, err := t.provider.GetIssue(ctx, repo, number)
	if err != nil {
		return "", err
	}
	return issue.Describe(), nil
}

// HandleListIssues implements github_list_issues.
func (t *Tools) HandleListIssues(ctx context.Context, args map[string]any) (string, error) {
	repo, err := repoArg(args)
	if err != nil {
		return "", err
	}

	issues, err := t.provider.ListIssues(ctx, repo, &ListOptions{
		State:     stringArg(args, "state"),
		Labels:    stringArg(args, "labels"),
		Assignee:  stringArg(args, "assignee"),
		Sort:      stringArg(args, "sort"),
		Direction: stringArg(args, "direction"),
		Limit:     intArg(args, "limit"),
		Page:      intArg(args, "page"),
	})
	if err != nil {
		return "", err
	}
	if len(issues) == 0 {
		return "No issues found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d issue(s):\n\n", len(issues))
	for _, i := range issues {
		sb.WriteString(i.Summary())
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// HandleGetPR implements github_get_pr.
func (t *Tools) HandleGetPR(ctx context.Context, args map[string]any) (string, error) {
	repo, err := repoArg(args)
	if err != nil {
		return "", err
	}
	number, err := numberArg(args)
	if err != nil {
		return "", err
	}

	pr, err := t.provider.GetPR(ctx, repo, number)
	if err != nil {
		return "", err
	}
	return pr.Describe(), nil
}

// HandlePRDiff implements github_pr_diff: the unified diff, truncated
// at max_lines.
func (t *Tools) HandlePRDiff(ctx context.Context, args map[string]any) (string, error) {
	repo, err := repoArg(args)
	if err != nil {
		return "", err
	}
	number, err := numberArg(args)
	if err != nil {
		return "", err
	}

	maxLines := intArg(args, "max_lines")
	if maxLines <= 0 {
		maxLines = defaultDiffLines
	}

	diff, err := t.provider.GetPRDiff(ctx, repo, number)
	if err != nil {
		return "", err
	}

	lines := strings.Split(diff, "\n")
	if len(lines) > maxLines {
		return fmt.Sprintf("%s\n\n[diff truncated, %d more lines]",
			strings.Join(lines[:maxLines], "\n"), len(lines)-maxLines), nil
	}
	return diff, nil
}

// HandleSearch implements github_search for issues, code, or commits.
func (t *Tools) HandleSearch(ctx context.Context, args map[string]any) (string, error) {
	query := stringArg(args, "query")
	if query == "" {
		return "", fmt.Errorf("query is required")
	}

	kind := stringArg(args, "kind")
	if kind == "" {
		kind = string(SearchIssues)
	}

	results, err := t.provider.Search(ctx, query, SearchKind(kind), intArg(args, "limit"))
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d result(s):\n\n", len(results))
	for _, r := range results {
		if r.Number > 0 {
			fmt.Fprintf(&sb, "#%d ", r.Number)
		}
		title := r.Title
		if title == "" {
			title = r.Path
		}
		fmt.Fprintf(&sb, "%s\n  %s\n", title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&sb, "  %s\n", r.Snippet)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
