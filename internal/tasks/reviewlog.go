package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/prompts"
	"github.com/alanmeadows/scribe/internal/trigger"
)

const reviewLogHeader = "# Code Review Log\n\nAppend-only log of automated review summaries, newest last.\n"

// ReviewLog condenses a code review into a short entry appended to
// CODE_REVIEW.md. It runs after the review task; the orchestrator hands it
// the review body via SetReview.
type ReviewLog struct {
	Host    host.Client
	Gateway *llm.Gateway

	review string

	// now is the clock, overridable in tests.
	now func() time.Time
}

func (r *ReviewLog) Name() string { return trigger.TaskReviewLog }

// SetReview hands over the review body produced by the review task.
func (r *ReviewLog) SetReview(text string) { r.review = text }

// Plan declines when there is no review to summarize.
func (r *ReviewLog) Plan(tc *trigger.Context) bool {
	return !tc.Analysis.DocOnly
}

func (r *ReviewLog) Execute(ctx context.Context, tc *trigger.Context) Outcome {
	if strings.TrimSpace(r.review) == "" {
		return skipped("no review to log")
	}

	prompt, err := prompts.Execute("review-summary.md", map[string]string{"Review": r.review})
	if err != nil {
		return failure(fmt.Errorf("building summary prompt: %w", err), llm.Usage{})
	}

	summary, usage, err := r.Gateway.Generate(ctx, llm.Request{
		System: "You condense code reviews into short log entries.",
		Prompt: prompt,
	})
	if err != nil {
		return failure(fmt.Errorf("summarizing review: %w", err), llm.Usage{})
	}

	current, err := r.Host.GetFile(ctx, "CODE_REVIEW.md", "")
	if err != nil {
		if !host.IsNotFound(err) {
			return failure(fmt.Errorf("reading CODE_REVIEW.md: %w", err), llm.Usage{})
		}
		current = reviewLogHeader
	}

	clock := r.now
	if clock == nil {
		clock = time.Now
	}
	entry := fmt.Sprintf("## %s (%s)\n\n%s\n",
		clock().Format("2006-01-02"), shortCommit(tc.Event.Commit), strings.TrimSpace(summary))

	updated := strings.TrimRight(current, "\n") + "\n\n" + entry

	out := success("appended review log entry", usage)
	out.Proposed = &Proposed{Path: "CODE_REVIEW.md", Content: updated}
	return out
}

var _ Task = (*ReviewLog)(nil)
