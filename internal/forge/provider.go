package forge

import "context"

// Provider is the read-only surface a forge must offer. Repo parameters
// are always "owner/name".
type Provider interface {
	// GetIssue fetches one issue by number.
	GetIssue(ctx context.Context, repo string, number int) (*Issue, error)

	// ListIssues returns filtered issues. Pull requests leaking through
	// the underlying issues API are excluded.
	ListIssues(ctx context.Context, repo string, opts *ListOptions) ([]*Issue, error)

	// GetPR fetches one pull request by number.
	GetPR(ctx context.Context, repo string, number int) (*PullRequest, error)

	// GetPRDiff returns a pull request's raw unified diff.
	GetPRDiff(ctx context.Context, repo string, number int) (string, error)

	// Search queries the forge. A non-positive limit uses the provider
	// default.
	Search(ctx context.Context, query string, kind SearchKind, limit int) ([]SearchResult, error)
}
