package tasks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/session"
	"github.com/alanmeadows/scribe/internal/trigger"
)

const sampleDiff = "diff --git a/main.go b/main.go\n--- a/main.go\n+++ b/main.go\n+func main() {}\n"

func testGateway(provider *llm.MockProvider) *llm.Gateway {
	return llm.NewGateway(provider, 600, 0)
}

func prContext() *trigger.Context {
	return &trigger.Context{
		Event:       trigger.Event{Kind: trigger.EventPullRequest, Action: trigger.ActionSynchronize, Commit: "abcdef1234567890", PRNumber: 67},
		TriggerType: trigger.TriggerPRSynchronized,
		RunType:     trigger.RunFullAutomation,
		Diff:        sampleDiff,
		Analysis:    trigger.DiffAnalysis{TotalLines: 1, CodeLines: 1, FilesChanged: 1},
		Tasks:       []string{trigger.TaskCodeReview, trigger.TaskReadmeUpdate, trigger.TaskSpecUpdate, trigger.TaskReviewLog},
	}
}

func TestCodeReviewPostsPRReview(t *testing.T) {
	mock := host.NewMock()
	mock.PRs[67] = &host.PRInfo{Number: 67, Title: "Add main", State: "open"}
	provider := llm.NewMockProvider()
	provider.DefaultResult = "## Strengths\nGood.\n\nScore: 8/10"

	task := &CodeReview{Host: mock, Gateway: testGateway(provider), Repo: "octo/widgets", PostReviewOnPR: true, ContextLines: 40}
	out := task.Execute(context.Background(), prContext())

	assert.Equal(t, session.TaskSuccess, out.Status)
	assert.Equal(t, "posted review on PR #67", out.Summary)
	assert.Contains(t, out.Text, "Score: 8/10")
	assert.Contains(t, mock.CallLog(), "post_pr_review 67")
	assert.Equal(t, 100, out.Metrics.PromptTokens)
}

func TestCodeReviewFallsBackToCommitComment(t *testing.T) {
	mock := host.NewMock()
	provider := llm.NewMockProvider()

	tc := prContext()
	tc.Event.PRNumber = 0
	task := &CodeReview{Host: mock, Gateway: testGateway(provider), Repo: "octo/widgets", PostReviewOnPR: true}
	out := task.Execute(context.Background(), tc)

	assert.Equal(t, session.TaskSuccess, out.Status)
	assert.Equal(t, "posted commit comment on abcdef12", out.Summary)
	assert.Contains(t, mock.CallLog(), "post_commit_comment abcdef1234567890")
}

func TestCodeReviewPostFailureKeepsReviewText(t *testing.T) {
	mock := host.NewMock()
	mock.PRs[67] = &host.PRInfo{Number: 67, State: "open"}
	mock.Errs["post_pr_review"] = &host.Error{Kind: host.KindTransient, Status: 502, Op: "post_pr_review", Err: assert.AnError}
	provider := llm.NewMockProvider()

	task := &CodeReview{Host: mock, Gateway: testGateway(provider), Repo: "octo/widgets", PostReviewOnPR: true}
	out := task.Execute(context.Background(), prContext())

	assert.Equal(t, session.TaskFailed, out.Status)
	assert.Equal(t, ErrPostSideEffect, out.ErrKind)
	assert.NotEmpty(t, out.Text, "generated review survives a failed post")
}

func TestCodeReviewPlanDeclinesDocOnly(t *testing.T) {
	task := &CodeReview{}
	tc := prContext()
	tc.Analysis.DocOnly = true
	assert.False(t, task.Plan(tc))
	assert.True(t, task.Plan(prContext()))
}

func TestReadmeUpdateEmitsProposedBlob(t *testing.T) {
	mock := host.NewMock()
	mock.Files["README.md"] = "# Widgets\n\nOld intro.\n"
	provider := llm.NewMockProvider()
	provider.DefaultResult = "# Widgets\n\nNew intro.\n"

	task := &ReadmeUpdate{Host: mock, Gateway: testGateway(provider), Repo: "octo/widgets"}
	out := task.Execute(context.Background(), prContext())

	require.Equal(t, session.TaskSuccess, out.Status)
	require.NotNil(t, out.Proposed)
	assert.Equal(t, "README.md", out.Proposed.Path)
	assert.Contains(t, out.Proposed.Content, "New intro")
}

func TestReadmeUpdateSkipsWhenIdentical(t *testing.T) {
	current := "# Widgets\n\nStable intro.\n"
	mock := host.NewMock()
	mock.Files["README.md"] = current
	provider := llm.NewMockProvider()
	provider.DefaultResult = current

	task := &ReadmeUpdate{Host: mock, Gateway: testGateway(provider), Repo: "octo/widgets"}
	out := task.Execute(context.Background(), prContext())

	assert.Equal(t, session.TaskSkipped, out.Status)
	assert.Equal(t, "no_changes", out.Summary)
	assert.Nil(t, out.Proposed)
}

func TestReadmeUpdateSkipsWithoutReadme(t *testing.T) {
	task := &ReadmeUpdate{Host: host.NewMock(), Gateway: testGateway(llm.NewMockProvider()), Repo: "octo/widgets"}
	out := task.Execute(context.Background(), prContext())
	assert.Equal(t, session.TaskSkipped, out.Status)
}

func TestSpecUpdateAppendsEntryAndRefreshesStamp(t *testing.T) {
	mock := host.NewMock()
	mock.Files["spec.md"] = "# Spec\n\n**Last Updated:** 2026-01-01\n\n## Development Log\n\n### [2026-01-01]\n\n- **Summary:** initial.\n"
	provider := llm.NewMockProvider()
	provider.DefaultResult = "### [2026-08-26]\n\n- **Summary:** added main.\n- **Decisions:** None.\n- **Next Steps:** None."

	task := &SpecUpdate{Host: mock, Gateway: testGateway(provider), Repo: "octo/widgets",
		now: func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }}
	out := task.Execute(context.Background(), prContext())

	require.Equal(t, session.TaskSuccess, out.Status)
	require.NotNil(t, out.Proposed)
	assert.Equal(t, "spec.md", out.Proposed.Path)
	assert.Contains(t, out.Proposed.Content, "**Last Updated:** 2026-08-26")
	assert.Contains(t, out.Proposed.Content, "### [2026-08-26]")

	// The old entry stays; the new one lands at the end.
	content := out.Proposed.Content
	assert.Less(t, indexOf(content, "### [2026-01-01]"), indexOf(content, "### [2026-08-26]"))
}

func TestAppendLogEntryCreatesHeading(t *testing.T) {
	out := appendLogEntry("# Spec\n\nBody.\n", "### [2026-08-26]\n\n- **Summary:** x.", "2026-08-26")
	assert.Contains(t, out, "## Development Log")
	assert.Less(t, indexOf(out, "## Development Log"), indexOf(out, "### [2026-08-26]"))
}

func TestReviewLogAppendsSummary(t *testing.T) {
	mock := host.NewMock()
	mock.Files["CODE_REVIEW.md"] = "# Code Review Log\n\n## 2026-01-01 (11111111)\n\n- **Score:** 7/10\n"
	provider := llm.NewMockProvider()
	provider.DefaultResult = "- **Score:** 8/10\n- **Key Issues:** None.\n- **Action Items:** None."

	task := &ReviewLog{Host: mock, Gateway: testGateway(provider),
		now: func() time.Time { return time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC) }}
	task.SetReview("## Strengths\nSolid.\n\nScore: 8/10")
	out := task.Execute(context.Background(), prContext())

	require.Equal(t, session.TaskSuccess, out.Status)
	require.NotNil(t, out.Proposed)
	assert.Equal(t, "CODE_REVIEW.md", out.Proposed.Path)
	assert.Contains(t, out.Proposed.Content, "## 2026-08-26 (abcdef12)")
	assert.Contains(t, out.Proposed.Content, "## 2026-01-01 (11111111)", "existing entries survive")
}

func TestReviewLogCreatesFileWithHeader(t *testing.T) {
	mock := host.NewMock()
	provider := llm.NewMockProvider()

	task := &ReviewLog{Host: mock, Gateway: testGateway(provider)}
	task.SetReview("Score: 9/10")
	out := task.Execute(context.Background(), prContext())

	require.Equal(t, session.TaskSuccess, out.Status)
	assert.Contains(t, out.Proposed.Content, "# Code Review Log")
}

func TestReviewLogSkipsWithoutReview(t *testing.T) {
	task := &ReviewLog{Host: host.NewMock(), Gateway: testGateway(llm.NewMockProvider())}
	out := task.Execute(context.Background(), prContext())
	assert.Equal(t, session.TaskSkipped, out.Status)
}

func TestClassifyErrorKinds(t *testing.T) {
	assert.Equal(t, ErrHostAuth, classify(&host.Error{Kind: host.KindAuth}))
	assert.Equal(t, ErrHostNotFound, classify(&host.Error{Kind: host.KindNotFound}))
	assert.Equal(t, ErrHostRateLimit, classify(&host.Error{Kind: host.KindRateLimited}))
	assert.Equal(t, ErrHostAPI, classify(&host.Error{Kind: host.KindTransient}))
	assert.Equal(t, ErrLLM, classify(&llm.Error{Kind: llm.KindRateLimited}))
	assert.Equal(t, ErrCancelled, classify(context.Canceled))
	assert.Equal(t, ErrUnknown, classify(assert.AnError))
}

func TestChangedPaths(t *testing.T) {
	diff := "--- a/x.go\n+++ b/x.go\n+1\n--- a/docs/y.md\n+++ b/docs/y.md\n+2\n"
	assert.Equal(t, []string{"x.go", "docs/y.md"}, changedPaths(diff))
}

func indexOf(haystack, needle string) int {
	return strings.Index(haystack, needle)
}
