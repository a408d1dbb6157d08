package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/prompts"
	"github.com/alanmeadows/scribe/internal/trigger"
)

// maxContextFiles bounds how many changed files contribute surrounding
// context to the review prompt.
const maxContextFiles = 3

// CodeReview generates a structured review of the diff and delivers it per
// the configured policy: PR review, then commit comment, then issue.
type CodeReview struct {
	Host           host.Client
	Gateway        *llm.Gateway
	Repo           string
	PostReviewOnPR bool
	PostAsIssue    bool
	ContextLines   int
}

func (c *CodeReview) Name() string { return trigger.TaskCodeReview }

// Plan declines doc-only diffs; there is no code to review.
func (c *CodeReview) Plan(tc *trigger.Context) bool {
	return !tc.Analysis.DocOnly
}

func (c *CodeReview) Execute(ctx context.Context, tc *trigger.Context) Outcome {
	diff, err := diffFor(ctx, c.Host, tc)
	if err != nil {
		return failure(fmt.Errorf("fetching diff: %w", err), llm.Usage{})
	}

	data := map[string]string{
		"Repo":        c.Repo,
		"Commit":      tc.Event.Commit,
		"Branch":      tc.Event.Branch,
		"Diff":        diff,
		"FileContext": c.fileContext(ctx, diff),
	}
	if tc.Event.PRNumber > 0 {
		data["PRNumber"] = strconv.Itoa(tc.Event.PRNumber)
		if pr, err := c.Host.PR(ctx, tc.Event.PRNumber); err == nil {
			data["PRTitle"] = pr.Title
		}
	}

	prompt, err := prompts.Execute("code-review.md", data)
	if err != nil {
		return failure(fmt.Errorf("building review prompt: %w", err), llm.Usage{})
	}

	review, usage, err := c.Gateway.Generate(ctx, llm.Request{
		System: "You are a precise, constructive code reviewer.",
		Prompt: prompt,
	})
	if err != nil {
		return failure(fmt.Errorf("generating review: %w", err), llm.Usage{})
	}

	summary, err := c.deliver(ctx, tc, review)
	if err != nil {
		out := failure(fmt.Errorf("posting review: %w", err), usage)
		out.ErrKind = ErrPostSideEffect
		out.Text = review
		return out
	}

	out := success(summary, usage)
	out.Text = review
	return out
}

// deliver posts the review per policy and returns the summary line.
func (c *CodeReview) deliver(ctx context.Context, tc *trigger.Context, review string) (string, error) {
	if tc.Event.PRNumber > 0 && c.PostReviewOnPR {
		if err := c.Host.PostPRReview(ctx, tc.Event.PRNumber, review); err != nil {
			return "", err
		}
		return fmt.Sprintf("posted review on PR #%d", tc.Event.PRNumber), nil
	}
	if tc.Event.Commit != "" {
		if err := c.Host.PostCommitComment(ctx, tc.Event.Commit, review); err != nil {
			return "", err
		}
		return fmt.Sprintf("posted commit comment on %s", shortCommit(tc.Event.Commit)), nil
	}
	if c.PostAsIssue {
		title := fmt.Sprintf("Code review: %s", shortCommit(tc.Event.Commit))
		number, err := c.Host.CreateIssue(ctx, title, review)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("opened issue #%d", number), nil
	}
	return "review generated, no delivery target configured", nil
}

// fileContext fetches the head of each changed file, bounded by
// maxContextFiles and ContextLines. Fetch failures just shrink the context.
func (c *CodeReview) fileContext(ctx context.Context, diff string) string {
	if c.ContextLines <= 0 {
		return ""
	}
	var sections []string
	for _, path := range changedPaths(diff) {
		if len(sections) >= maxContextFiles {
			break
		}
		content, err := c.Host.GetFile(ctx, path, "")
		if err != nil {
			slog.Debug("skipping file context", "path", path, "kind", host.KindOf(err))
			continue
		}
		lines := strings.Split(content, "\n")
		if len(lines) > c.ContextLines {
			lines = lines[:c.ContextLines]
		}
		sections = append(sections, fmt.Sprintf("--- %s ---\n%s", path, strings.Join(lines, "\n")))
	}
	return strings.Join(sections, "\n\n")
}

var diffHeaderRe = regexp.MustCompile(`(?m)^\+\+\+ b/(.+)$`)

// changedPaths extracts target paths from a unified diff.
func changedPaths(diff string) []string {
	var out []string
	for _, match := range diffHeaderRe.FindAllStringSubmatch(diff, -1) {
		out = append(out, match[1])
	}
	return out
}

var _ Task = (*CodeReview)(nil)
