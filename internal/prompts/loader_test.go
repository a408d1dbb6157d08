package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var expectedTemplates = []string{
	"code-review.md",
	"readme-update.md",
	"review-summary.md",
	"spec-update.md",
}

func TestLoadAllTemplates(t *testing.T) {
	for _, name := range expectedTemplates {
		t.Run(name, func(t *testing.T) {
			tmpl, err := Load(name)
			require.NoError(t, err)
			assert.NotNil(t, tmpl)
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	_, err := Load("nonexistent-template.md")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "loading prompt template")
}

func TestList(t *testing.T) {
	names, err := List()
	require.NoError(t, err)

	assert.Equal(t, len(expectedTemplates), len(names))
	for _, expected := range expectedTemplates {
		assert.Contains(t, names, expected)
	}
}

func TestExecuteCodeReviewTemplate(t *testing.T) {
	data := map[string]string{
		"Repo":     "octo/widgets",
		"Commit":   "abc123",
		"PRNumber": "67",
		"PRTitle":  "Add retry logic",
		"Diff":     "+func retry() {}",
	}

	result, err := Execute("code-review.md", data)
	require.NoError(t, err)
	assert.Contains(t, result, "Add retry logic")
	assert.Contains(t, result, "+func retry() {}")
	assert.Contains(t, result, "## Security")
}

func TestExecuteSpecUpdateTemplate(t *testing.T) {
	data := map[string]string{
		"Repo":   "octo/widgets",
		"Date":   "2026-08-26",
		"Commit": "abc123",
		"Diff":   "+added line",
	}

	result, err := Execute("spec-update.md", data)
	require.NoError(t, err)
	assert.Contains(t, result, "### [2026-08-26]")
	assert.Contains(t, result, "abc123")
	assert.NotContains(t, result, "Pull request:", "no PR line without a PR number")
}

func TestExecuteReviewSummaryTemplate(t *testing.T) {
	result, err := Execute("review-summary.md", map[string]string{
		"Review": "Score: 8/10. Missing nil check in main.go.",
	})
	require.NoError(t, err)
	assert.Contains(t, result, "Missing nil check")
}
