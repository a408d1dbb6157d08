// Package host is a thin typed contract over the repository host's REST
// surface. Every call returns either a value or an *Error tagged with a kind;
// transient faults and rate limits are retried with backoff inside the
// client, so callers only ever see errors worth reporting.
package host

import (
	"context"
	"time"
)

// CommitInfo is commit metadata.
type CommitInfo struct {
	SHA     string
	Author  string
	Message string
	Parents []string
}

// PRInfo is pull request metadata.
type PRInfo struct {
	Number     int
	Title      string
	Body       string
	State      string // open, closed
	HeadBranch string
	HeadSHA    string
	BaseBranch string
	CreatedAt  time.Time
}

// IssueInfo is issue metadata.
type IssueInfo struct {
	Number int
	Title  string
	Labels []string
}

// Client is the host contract consumed by the orchestrator and the workers.
type Client interface {
	// CommitDiff fetches the unified diff for a single commit.
	CommitDiff(ctx context.Context, sha string) (string, error)

	// Commit fetches commit metadata.
	Commit(ctx context.Context, sha string) (*CommitInfo, error)

	// BranchHead resolves the tip commit of a branch.
	BranchHead(ctx context.Context, branch string) (string, error)

	// PRDiff fetches the unified diff for a pull request.
	PRDiff(ctx context.Context, number int) (string, error)

	// PR fetches pull request metadata.
	PR(ctx context.Context, number int) (*PRInfo, error)

	// FindPRByHead returns the open PR whose head is the given branch, or nil.
	FindPRByHead(ctx context.Context, branch string) (*PRInfo, error)

	// ListOpenPRs lists open pull requests.
	ListOpenPRs(ctx context.Context) ([]*PRInfo, error)

	// ListIssues lists open issues, optionally filtered by label.
	ListIssues(ctx context.Context, label string) ([]*IssueInfo, error)

	// PostCommitComment posts a comment on a commit.
	PostCommitComment(ctx context.Context, sha, body string) error

	// PostPRReview posts a review with event=COMMENT on a pull request.
	PostPRReview(ctx context.Context, number int, body string) error

	// PostPRComment posts an issue comment on a pull request.
	PostPRComment(ctx context.Context, number int, body string) error

	// CreateIssue opens an issue and returns its number.
	CreateIssue(ctx context.Context, title, body string) (int, error)

	// EnsureBranch creates the branch at the given commit, or force-resets it
	// when it already exists.
	EnsureBranch(ctx context.Context, name, sha string) error

	// GetFile returns the content of a file at a ref ("" = default branch).
	GetFile(ctx context.Context, path, ref string) (string, error)

	// PutFile creates or updates a file on a branch, fetching the current
	// blob SHA automatically.
	PutFile(ctx context.Context, branch, path, content, message string) error

	// OpenPR opens a pull request and returns its number.
	OpenPR(ctx context.Context, head, base, title, body string) (int, error)

	// UpdatePR updates an existing pull request's title and body.
	UpdatePR(ctx context.Context, number int, title, body string) error
}
