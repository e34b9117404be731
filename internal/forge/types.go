// Package forge gives the agent read-only visibility into code hosting
// services. The GitHub provider backs the github_* tools: issue and
// pull request lookup, raw diffs, and forge-native search. Nothing in
// this package mutates a forge.
package forge

import (
	"fmt"
	"strings"
	"time"
)

// Issue is a forge issue, normalized away from any one provider's API.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string // "open" or "closed"
	Labels    []string
	Assignees []string
	Author    string
	Comments  int
	URL       string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Describe renders the issue as text for the model: a header block,
// then the body after a separator.
func (i *Issue) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Issue #%d: %s\n", i.Number, i.Title)
	fmt.Fprintf(&sb, "State: %s | Author: %s\n", i.State, i.Author)
	if len(i.Labels) > 0 {
		fmt.Fprintf(&sb, "Labels: %s\n", strings.Join(i.Labels, ", "))
	}
	if len(i.Assignees) > 0 {
		fmt.Fprintf(&sb, "Assignees: %s\n", strings.Join(i.Assignees, ", "))
	}
	fmt.Fprintf(&sb, "Created: %s | Updated: %s\n", day(i.CreatedAt), day(i.UpdatedAt))
	fmt.Fprintf(&sb, "URL: %s\n", i.URL)
	if i.Body != "" {
		fmt.Fprintf(&sb, "\n---\n%s", i.Body)
	}
	return sb.String()
}

// Summary renders the issue as a single list line.
func (i *Issue) Summary() string {
	labels := ""
	if len(i.Labels) > 0 {
		labels = " [" + strings.Join(i.Labels, ", ") + "]"
	}
	return fmt.Sprintf("#%d %s (%s)%s — %s, %d comments",
		i.Number, i.Title, i.State, labels, i.Author, i.Comments)
}

// PullRequest is a forge pull request.
type PullRequest struct {
	Number int
	Title  string
	Body   string
	State  string
	Author string
	Draft  bool
	// Head is the source ref, Base the target branch.
	Head string
	Base string
	// Mergeable is nil while the forge is still computing it.
	Mergeable    *bool
	Additions    int
	Deletions    int
	ChangedFiles int
	URL          string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Describe renders the pull request as text for the model.
func (p *PullRequest) Describe() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PR #%d: %s\n", p.Number, p.Title)
	fmt.Fprintf(&sb, "State: %s | Author: %s\n", p.State, p.Author)
	if p.Draft {
		sb.WriteString("Draft: yes\n")
	}
	fmt.Fprintf(&sb, "Branch: %s → %s\n", p.Head, p.Base)
	fmt.Fprintf(&sb, "Changes: +%d -%d across %d files\n", p.Additions, p.Deletions, p.ChangedFiles)
	if p.Mergeable != nil {
		fmt.Fprintf(&sb, "Mergeable: %v\n", *p.Mergeable)
	}
	fmt.Fprintf(&sb, "Created: %s | Updated: %s\n", day(p.CreatedAt), day(p.UpdatedAt))
	fmt.Fprintf(&sb, "URL: %s\n", p.URL)
	if p.Body != "" {
		fmt.Fprintf(&sb, "\n---\n%s", p.Body)
	}
	return sb.String()
}

func day(t time.Time) string {
	return t.Format("2006-01-02")
}

// ListOptions filters ListIssues.
type ListOptions struct {
	// State is "open", "closed", or "all"; empty means "open".
	State string
	// Labels is comma-separated label names.
	Labels string
	// Assignee filters by assignee username.
	Assignee string
	// Sort is "created", "updated", or "comments".
	Sort string
	// Direction is "asc" or "desc".
	Direction string
	// Limit caps results per page; Page is 1-based.
	Limit int
	Page  int
}

// SearchKind selects what a forge search looks through.
type SearchKind string

const (
	SearchIssues  SearchKind = "issues"
	SearchCode    SearchKind = "code"
	SearchCommits SearchKind = "commits"
)

// SearchResult is one hit from a forge search. Which fields are set
// depends on Kind: issues carry Number/Title/Snippet, code carries
// Path, commits carry SHA/Title.
type SearchResult struct {
	Kind    string
	Number  int
	Title   string
	Snippet string
	Path    string
	SHA     string
	URL     string
}
