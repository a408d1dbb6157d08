package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanmeadows/scribe/internal/tasks"
	"github.com/alanmeadows/scribe/internal/trigger"
)

// blobOrder is the stable commit order for grouped updates.
var blobOrder = []string{"README.md", "spec.md", "CODE_REVIEW.md"}

// composeGroupedPR lands the proposed blobs on the automation branch and
// opens or updates the single grouped pull request.
func (o *Orchestrator) composeGroupedPR(ctx context.Context, runID string, tc *trigger.Context, proposed map[string]*tasks.Proposed) error {
	branch, title := automationBranch(tc)

	headSHA := tc.Event.Commit
	if headSHA == "" {
		return fmt.Errorf("no head commit to branch from")
	}

	// Create-or-reset keeps exactly one automation branch per source PR.
	if err := o.Host.EnsureBranch(ctx, branch, headSHA); err != nil {
		return fmt.Errorf("preparing branch %s: %w", branch, err)
	}

	committed := 0
	for _, path := range blobOrder {
		blob, ok := proposed[path]
		if !ok {
			continue
		}
		message := fmt.Sprintf("docs: update %s for %s", path, shortCommit(headSHA))
		if err := o.Host.PutFile(ctx, branch, path, blob.Content, message); err != nil {
			return fmt.Errorf("committing %s: %w", path, err)
		}
		committed++
		slog.Debug("committed automation blob", "branch", branch, "path", path, "bytes", len(blob.Content))
	}
	if committed == 0 {
		return nil
	}

	body := o.prBody(tc, proposed)

	existing, err := o.Host.FindPRByHead(ctx, branch)
	if err != nil {
		return fmt.Errorf("looking up automation PR: %w", err)
	}

	var prNumber int
	if existing != nil {
		if err := o.Host.UpdatePR(ctx, existing.Number, title, body); err != nil {
			return fmt.Errorf("updating automation PR #%d: %w", existing.Number, err)
		}
		prNumber = existing.Number
		slog.Info("automation PR updated", "pr", prNumber, "branch", branch)
	} else {
		base := tc.Event.Branch
		if tc.Event.PRNumber > 0 {
			if pr, prErr := o.Host.PR(ctx, tc.Event.PRNumber); prErr == nil && pr.BaseBranch != "" {
				base = pr.BaseBranch
			}
		}
		if base == "" {
			base = "main"
		}
		prNumber, err = o.Host.OpenPR(ctx, branch, base, title, body)
		if err != nil {
			return fmt.Errorf("opening automation PR: %w", err)
		}
		slog.Info("automation PR opened", "pr", prNumber, "branch", branch, "base", base)
	}

	if err := o.Store.RecordAutomationPR(runID, prNumber); err != nil {
		slog.Warn("recording automation PR failed", "run", runID, "pr", prNumber, "error", err)
	}
	return nil
}

// automationBranch derives the branch name and PR title: the source PR
// number when there is one, the short commit id otherwise.
func automationBranch(tc *trigger.Context) (branch, title string) {
	if tc.Event.PRNumber > 0 {
		return fmt.Sprintf("automation/pr-%d-docs", tc.Event.PRNumber),
			fmt.Sprintf("🤖 Automation updates for PR #%d", tc.Event.PRNumber)
	}
	short := shortCommit(tc.Event.Commit)
	return fmt.Sprintf("automation/%s-docs", short),
		fmt.Sprintf("🤖 Automation updates for %s", short)
}

func (o *Orchestrator) prBody(tc *trigger.Context, proposed map[string]*tasks.Proposed) string {
	var b strings.Builder
	b.WriteString("Automated documentation updates for ")
	if tc.Event.PRNumber > 0 {
		fmt.Fprintf(&b, "#%d", tc.Event.PRNumber)
	} else {
		fmt.Fprintf(&b, "commit %s", shortCommit(tc.Event.Commit))
	}
	b.WriteString(".\n\nFiles updated:\n")
	for _, path := range blobOrder {
		if _, ok := proposed[path]; ok {
			fmt.Fprintf(&b, "- `%s`\n", path)
		}
	}
	return b.String()
}
