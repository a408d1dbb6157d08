package host

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"golang.org/x/oauth2"

	"github.com/alanmeadows/scribe/internal/logging"
)

// GitHub implements Client for a single owner/repo pair.
type GitHub struct {
	client *gh.Client
	owner  string
	repo   string
	retry  retryPolicy
}

// NewGitHub creates a GitHub client with oauth2 token auth and the
// go-github-ratelimit middleware handling secondary rate limits.
func NewGitHub(owner, repo, token string) *GitHub {
	base := &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
	}
	rateLimiter := github_ratelimit.NewClient(base)
	return &GitHub{
		client: gh.NewClient(rateLimiter),
		owner:  owner,
		repo:   repo,
		retry:  defaultRetryPolicy(),
	}
}

// WithBaseURL points the client at a different API root. Used in tests.
func (g *GitHub) WithBaseURL(raw string) *GitHub {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	c, err := g.client.WithEnterpriseURLs(raw, raw)
	if err == nil {
		g.client = c
	}
	return g
}

// WithRetryPolicy overrides the backoff bounds. Used in tests.
func (g *GitHub) WithRetryPolicy(maxAttempts int, base, max time.Duration) *GitHub {
	g.retry.MaxAttempts = maxAttempts
	g.retry.BaseDelay = base
	g.retry.MaxDelay = max
	return g
}

// wrap converts a go-github error into a typed *Error and logs a redacted
// request line. Response bodies are never logged.
func (g *GitHub) wrap(op string, resp *gh.Response, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	path := ""
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
		if resp.Request != nil && resp.Request.URL != nil {
			path = fmt.Sprintf("%s %s", resp.Request.Method, logging.RedactURL(resp.Request.URL.Path))
		}
	}

	kind := KindTransient // no response at all: network fault
	if status > 0 {
		kind = kindForStatus(status)
	}
	if _, ok := err.(*gh.RateLimitError); ok {
		kind = KindRateLimited
	}
	if _, ok := err.(*gh.AbuseRateLimitError); ok {
		kind = KindRateLimited
	}

	slog.Debug("host call failed", "op", op, "request", path, "status", status, "kind", kind)
	return &Error{Kind: kind, Status: status, Op: op, Err: err}
}

func (g *GitHub) CommitDiff(ctx context.Context, sha string) (string, error) {
	var diff string
	err := withRetry(ctx, g.retry, "commit_diff", func() error {
		raw, resp, err := g.client.Repositories.GetCommitRaw(ctx, g.owner, g.repo, sha, gh.RawOptions{Type: gh.Diff})
		if err != nil {
			return g.wrap("commit_diff", resp, err)
		}
		diff = raw
		return nil
	})
	return diff, err
}

func (g *GitHub) Commit(ctx context.Context, sha string) (*CommitInfo, error) {
	var info *CommitInfo
	err := withRetry(ctx, g.retry, "commit", func() error {
		c, resp, err := g.client.Repositories.GetCommit(ctx, g.owner, g.repo, sha, nil)
		if err != nil {
			return g.wrap("commit", resp, err)
		}
		info = &CommitInfo{
			SHA:     c.GetSHA(),
			Author:  c.GetCommit().GetAuthor().GetName(),
			Message: c.GetCommit().GetMessage(),
		}
		for _, p := range c.Parents {
			info.Parents = append(info.Parents, p.GetSHA())
		}
		return nil
	})
	return info, err
}

func (g *GitHub) BranchHead(ctx context.Context, branch string) (string, error) {
	var sha string
	err := withRetry(ctx, g.retry, "branch_head", func() error {
		b, resp, err := g.client.Repositories.GetBranch(ctx, g.owner, g.repo, branch, 0)
		if err != nil {
			return g.wrap("branch_head", resp, err)
		}
		sha = b.GetCommit().GetSHA()
		return nil
	})
	return sha, err
}

func (g *GitHub) PRDiff(ctx context.Context, number int) (string, error) {
	var diff string
	err := withRetry(ctx, g.retry, "pr_diff", func() error {
		raw, resp, err := g.client.PullRequests.GetRaw(ctx, g.owner, g.repo, number, gh.RawOptions{Type: gh.Diff})
		if err != nil {
			return g.wrap("pr_diff", resp, err)
		}
		diff = raw
		return nil
	})
	return diff, err
}

func (g *GitHub) PR(ctx context.Context, number int) (*PRInfo, error) {
	var info *PRInfo
	err := withRetry(ctx, g.retry, "pr", func() error {
		pr, resp, err := g.client.PullRequests.Get(ctx, g.owner, g.repo, number)
		if err != nil {
			return g.wrap("pr", resp, err)
		}
		info = mapPR(pr)
		return nil
	})
	return info, err
}

func (g *GitHub) FindPRByHead(ctx context.Context, branch string) (*PRInfo, error) {
	var info *PRInfo
	err := withRetry(ctx, g.retry, "find_pr_by_head", func() error {
		prs, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &gh.PullRequestListOptions{
			State:       "open",
			Head:        g.owner + ":" + branch,
			ListOptions: gh.ListOptions{PerPage: 1},
		})
		if err != nil {
			return g.wrap("find_pr_by_head", resp, err)
		}
		if len(prs) > 0 {
			info = mapPR(prs[0])
		}
		return nil
	})
	return info, err
}

func (g *GitHub) ListOpenPRs(ctx context.Context) ([]*PRInfo, error) {
	var out []*PRInfo
	err := withRetry(ctx, g.retry, "list_open_prs", func() error {
		out = out[:0]
		opts := &gh.PullRequestListOptions{State: "open", ListOptions: gh.ListOptions{PerPage: 100}}
		for {
			prs, resp, err := g.client.PullRequests.List(ctx, g.owner, g.repo, opts)
			if err != nil {
				return g.wrap("list_open_prs", resp, err)
			}
			for _, pr := range prs {
				out = append(out, mapPR(pr))
			}
			if resp.NextPage == 0 {
				return nil
			}
			opts.Page = resp.NextPage
		}
	})
	return out, err
}

func (g *GitHub) ListIssues(ctx context.Context, label string) ([]*IssueInfo, error) {
	var out []*IssueInfo
	err := withRetry(ctx, g.retry, "list_issues", func() error {
		out = out[:0]
		opts := &gh.IssueListByRepoOptions{State: "open", ListOptions: gh.ListOptions{PerPage: 100}}
		if label != "" {
			opts.Labels = []string{label}
		}
		for {
			issues, resp, err := g.client.Issues.ListByRepo(ctx, g.owner, g.repo, opts)
			if err != nil {
				return g.wrap("list_issues", resp, err)
			}
			for _, is := range issues {
				if is.IsPullRequest() {
					continue
				}
				info := &IssueInfo{Number: is.GetNumber(), Title: is.GetTitle()}
				for _, l := range is.Labels {
					info.Labels = append(info.Labels, l.GetName())
				}
				out = append(out, info)
			}
			if resp.NextPage == 0 {
				return nil
			}
			// IssueListByRepoOptions embeds both cursor and offset pagination;
			// the offset Page must be addressed through the embedded struct.
			opts.ListOptions.Page = resp.NextPage
		}
	})
	return out, err
}

func (g *GitHub) PostCommitComment(ctx context.Context, sha, body string) error {
	return withRetry(ctx, g.retry, "post_commit_comment", func() error {
		_, resp, err := g.client.Repositories.CreateComment(ctx, g.owner, g.repo, sha, &gh.RepositoryComment{
			Body: gh.Ptr(body),
		})
		return g.wrap("post_commit_comment", resp, err)
	})
}

func (g *GitHub) PostPRReview(ctx context.Context, number int, body string) error {
	return withRetry(ctx, g.retry, "post_pr_review", func() error {
		_, resp, err := g.client.PullRequests.CreateReview(ctx, g.owner, g.repo, number, &gh.PullRequestReviewRequest{
			Event: gh.Ptr("COMMENT"),
			Body:  gh.Ptr(body),
		})
		return g.wrap("post_pr_review", resp, err)
	})
}

func (g *GitHub) PostPRComment(ctx context.Context, number int, body string) error {
	return withRetry(ctx, g.retry, "post_pr_comment", func() error {
		_, resp, err := g.client.Issues.CreateComment(ctx, g.owner, g.repo, number, &gh.IssueComment{
			Body: gh.Ptr(body),
		})
		return g.wrap("post_pr_comment", resp, err)
	})
}

func (g *GitHub) CreateIssue(ctx context.Context, title, body string) (int, error) {
	var number int
	err := withRetry(ctx, g.retry, "create_issue", func() error {
		issue, resp, err := g.client.Issues.Create(ctx, g.owner, g.repo, &gh.IssueRequest{
			Title: gh.Ptr(title),
			Body:  gh.Ptr(body),
		})
		if err != nil {
			return g.wrap("create_issue", resp, err)
		}
		number = issue.GetNumber()
		return nil
	})
	return number, err
}

// EnsureBranch creates name at sha, or force-updates it when it exists.
// This is the create-or-reset primitive behind the automation branch.
func (g *GitHub) EnsureBranch(ctx context.Context, name, sha string) error {
	ref := "refs/heads/" + name
	return withRetry(ctx, g.retry, "ensure_branch", func() error {
		_, resp, err := g.client.Git.GetRef(ctx, g.owner, g.repo, ref)
		if err != nil {
			wrapped := g.wrap("ensure_branch", resp, err)
			if KindOf(wrapped) != KindNotFound {
				return wrapped
			}
			_, resp, err = g.client.Git.CreateRef(ctx, g.owner, g.repo, gh.CreateRef{Ref: ref, SHA: sha})
			return g.wrap("ensure_branch", resp, err)
		}
		_, resp, err = g.client.Git.UpdateRef(ctx, g.owner, g.repo, ref, gh.UpdateRef{SHA: sha, Force: gh.Ptr(true)})
		return g.wrap("ensure_branch", resp, err)
	})
}

func (g *GitHub) GetFile(ctx context.Context, path, ref string) (string, error) {
	var content string
	err := withRetry(ctx, g.retry, "get_file", func() error {
		fc, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path, &gh.RepositoryContentGetOptions{Ref: ref})
		if err != nil {
			return g.wrap("get_file", resp, err)
		}
		if fc == nil {
			return &Error{Kind: KindNotFound, Op: "get_file", Err: fmt.Errorf("%s is a directory", path)}
		}
		decoded, err := fc.GetContent()
		if err != nil {
			return &Error{Kind: KindOther, Op: "get_file", Err: err}
		}
		content = decoded
		return nil
	})
	return content, err
}

// PutFile creates or updates path on branch, auto-fetching the current blob
// SHA so repeated runs update rather than conflict.
func (g *GitHub) PutFile(ctx context.Context, branch, path, content, message string) error {
	return withRetry(ctx, g.retry, "put_file", func() error {
		opts := &gh.RepositoryContentFileOptions{
			Message: gh.Ptr(message),
			Content: []byte(content),
			Branch:  gh.Ptr(branch),
		}

		fc, _, resp, err := g.client.Repositories.GetContents(ctx, g.owner, g.repo, path, &gh.RepositoryContentGetOptions{Ref: branch})
		switch {
		case err == nil && fc != nil:
			opts.SHA = gh.Ptr(fc.GetSHA())
			_, resp, err = g.client.Repositories.UpdateFile(ctx, g.owner, g.repo, path, opts)
			return g.wrap("put_file", resp, err)
		default:
			if wrapped := g.wrap("put_file", resp, err); err != nil && KindOf(wrapped) != KindNotFound {
				return wrapped
			}
			_, resp, err = g.client.Repositories.CreateFile(ctx, g.owner, g.repo, path, opts)
			return g.wrap("put_file", resp, err)
		}
	})
}

func (g *GitHub) OpenPR(ctx context.Context, head, base, title, body string) (int, error) {
	var number int
	err := withRetry(ctx, g.retry, "open_pr", func() error {
		pr, resp, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &gh.NewPullRequest{
			Title: gh.Ptr(title),
			Head:  gh.Ptr(head),
			Base:  gh.Ptr(base),
			Body:  gh.Ptr(body),
		})
		if err != nil {
			return g.wrap("open_pr", resp, err)
		}
		number = pr.GetNumber()
		return nil
	})
	return number, err
}

func (g *GitHub) UpdatePR(ctx context.Context, number int, title, body string) error {
	return withRetry(ctx, g.retry, "update_pr", func() error {
		_, resp, err := g.client.PullRequests.Edit(ctx, g.owner, g.repo, number, &gh.PullRequest{
			Title: gh.Ptr(title),
			Body:  gh.Ptr(body),
		})
		return g.wrap("update_pr", resp, err)
	})
}

func mapPR(pr *gh.PullRequest) *PRInfo {
	return &PRInfo{
		Number:     pr.GetNumber(),
		Title:      pr.GetTitle(),
		Body:       pr.GetBody(),
		State:      pr.GetState(),
		HeadBranch: pr.GetHead().GetRef(),
		HeadSHA:    pr.GetHead().GetSHA(),
		BaseBranch: pr.GetBase().GetRef(),
		CreatedAt:  pr.GetCreatedAt().Time,
	}
}

// Verify GitHub implements Client at compile time.
var _ Client = (*GitHub)(nil)
