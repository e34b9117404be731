package forge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/v69/github"
)

// rateWarnThreshold is the remaining-call count below which we start
// warning about the GitHub API rate limit.
const rateWarnThreshold = 100

// GitHub implements Provider on the go-github SDK.
type GitHub struct {
	client *gogithub.Client
	logger *slog.Logger
}

// NewGitHub creates a GitHub provider authenticated with token. A
// non-empty baseURL targets a GitHub Enterprise instance instead of
// github.com.
func NewGitHub(httpClient *http.Client, token, baseURL string, logger *slog.Logger) (*GitHub, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client := gogithub.NewClient(httpClient).WithAuthToken(token)
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("forge: invalid base url %q: %w", baseURL, err)
		}
	}

	return &GitHub{client: client, logger: logger}, nil
}

// parseRepo splits "owner/name".
func parseRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("invalid repo %q: expected owner/repo", repo)
	}
	return owner, name, nil
}

// noteRateLimit warns once per call when the API budget runs low.
func (g *GitHub) noteRateLimit(resp *gogithub.Response) {
	if resp == nil {
		return
	}
	if resp.Rate.Remaining < rateWarnThreshold {
		g.logger.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset", resp.Rate.Reset.Time,
		)
	}
}

// GetIssue fetches one issue by number.
func (g *GitHub) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	owner, name, err := parseRepo(repo)
	if err != nil {
		return nil, err
	}

	result, resp, err := g.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("forge: get issue: %w", err)
	}
	g.noteRateLimit(resp)
	return issueFromAPI(result), nil
}

// ListIssues returns filtered issues. GitHub's issues endpoint mixes in
// pull requests; those are dropped here.
func (g *GitHub) ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error) {
	owner, name, err := parseRepo(repo)
	if err != nil {
		return nil, err
	}

	apiOpts := &gogithub.IssueListByRepoOptions{
		State:     opts.State,
		Assignee:  opts.Assignee,
		Sort:      opts.Sort,
		Direction: opts.Direction,
		ListOptions: gogithub.ListOptions{
			Page:    opts.Page,
			PerPage: opts.Limit,
		},
	}
	if apiOpts.State == "" {
		apiOpts.State = "open"
	}
	if opts.Labels != "" {
		apiOpts.Labels = strings.Split(opts.Labels, ",")
	}

	results, resp, err := g.client.Issues.ListByRepo(ctx, owner, name, apiOpts)
	if err != nil {
		return nil, fmt.Errorf("forge: list issues: %w", err)
	}
	g.noteRateLimit(resp)

	issues := make([]*Issue, 0, len(results))
	for _, r := range results {
		if r.IsPullRequest() {
			continue
		}
		issues = append(issues, issueFromAPI(r))
	}
	return issues, nil
}

// GetPR fetches one pull request by number.
func (g *GitHub) GetPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	owner, name, err := parseRepo(repo)
	if err != nil {
		return nil, err
	}

	result, resp, err := g.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("forge: get pr: %w", err)
	}
	g.noteRateLimit(resp)
	return prFromAPI(result), nil
}

// GetPRDiff returns the pull request's raw unified diff.
func (g *GitHub) GetPRDiff(ctx context.Context, repo string, number int) (string, error) {
	owner, name, err := parseRepo(repo)
	if err != nil {
		return "", err
	}

	diff, resp, err := g.client.PullRequests.GetRaw(ctx, owner, name, number, gogithub.RawOptions{
		Type: gogithub.Diff,
	})
	if err != nil {
		return "", fmt.Errorf("forge: get pr diff: %w", err)
	}
	g.noteRateLimit(resp)
	return diff, nil
}

// Search runs a forge-native search of the requested kind.
func (g *GitHub) Search(ctx context.Context, query string, kind SearchKind, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 30
	}
	opts := &gogithub.SearchOptions{ListOptions: gogithub.ListOptions{PerPage: limit}}

	switch kind {
	case SearchIssues:
		return g.searchIssues(ctx, query, opts)
	case SearchCode:
		return g.searchCode(ctx, query, opts)
	case SearchCommits:
		return g.searchCommits(ctx, query, opts)
	default:
		return nil, fmt.Errorf("forge: unsupported search kind %q (valid: issues, code, commits)", kind)
	}
}

func (g *GitHub) searchIssues(ctx context.Context, query string, opts *gogithub.SearchOptions) ([]SearchResult, error) {
	r, resp, err := g.client.Search.Issues(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: search issues: %w", err)
	}
	g.noteRateLimit(resp)

	results := make([]SearchResult, 0, len(r.Issues))
	for _, item := range r.Issues {
		results = append(results, SearchResult{
			Kind:    "issue",
			Number:  item.GetNumber(),
			Title:   item.GetTitle(),
			URL:     item.GetHTMLURL(),
			Snippet: subject(item.GetBody()),
		})
	}
	return results, nil
}

func (g *GitHub) searchCode(ctx context.Context, query string, opts *gogithub.SearchOptions) ([]SearchResult, error) {
	r, resp, err := g.client.Search.Code(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: search code: %w", err)
	}
	g.noteRateLimit(resp)

	results := make([]SearchResult, 0, len(r.CodeResults))
	for _, item := range r.CodeResults {
		results = append(results, SearchResult{
			Kind: "code",
			Path: item.GetPath(),
			URL:  item.GetHTMLURL(),
		})
	}
	return results, nil
}

func (g *GitHub) searchCommits(ctx context.Context, query string, opts *gogithub.SearchOptions) ([]SearchResult, error) {
	r, resp, err := g.client.Search.Commits(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("forge: search commits: %w", err)
	}
	g.noteRateLimit(resp)

	results := make([]SearchResult, 0, len(r.Commits))
	for _, item := range r.Commits {
		results = append(results, SearchResult{
			Kind:  "commit",
			SHA:   item.GetSHA(),
			Title: subject(item.GetCommit().GetMessage()),
			URL:   item.GetHTMLURL(),
		})
	}
	return results, nil
}

// subject reduces s to its first line, capped at 200 characters, so
// snippets and commit subjects stay one line in tool output.
func subject(s string) string {
	s, _, _ = strings.Cut(s, "\n")
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func issueFromAPI(i *gogithub.Issue) *Issue {
	if i == nil {
		return nil
	}
	out := &Issue{
		Number:    i.GetNumber(),
		Title:     i.GetTitle(),
		Body:      i.GetBody(),
		State:     i.GetState(),
		Author:    i.GetUser().GetLogin(),
		Comments:  i.GetComments(),
		URL:       i.GetHTMLURL(),
		CreatedAt: i.GetCreatedAt().Time,
		UpdatedAt: i.GetUpdatedAt().Time,
	}
	for _, l := range i.Labels {
		out.Labels = append(out.Labels, l.GetName())
	}
	for _, a := range i.Assignees {
		out.Assignees = append(out.Assignees, a.GetLogin())
	}
	return out
}

func prFromAPI(pr *gogithub.PullRequest) *PullRequest {
	if pr == nil {
		return nil
	}
	out := &PullRequest{
		Number:       pr.GetNumber(),
		Title:        pr.GetTitle(),
		Body:         pr.GetBody(),
		State:        pr.GetState(),
		Author:       pr.GetUser().GetLogin(),
		Draft:        pr.GetDraft(),
		Head:         pr.GetHead().GetRef(),
		Base:         pr.GetBase().GetRef(),
		Additions:    pr.GetAdditions(),
		Deletions:    pr.GetDeletions(),
		ChangedFiles: pr.GetChangedFiles(),
		URL:          pr.GetHTMLURL(),
		CreatedAt:    pr.GetCreatedAt().Time,
		UpdatedAt:    pr.GetUpdatedAt().Time,
	}
	if pr.Mergeable != nil {
		m := pr.GetMergeable()
		out.Mergeable = &m
	}
	return out
}
