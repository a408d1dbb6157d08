// Package orchestrator choreographs one automation run end to end:
// classify the event, record it, fan out the workers, compose the grouped
// automation PR, and finalize the run record.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanmeadows/scribe/internal/config"
	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/session"
	"github.com/alanmeadows/scribe/internal/tasks"
	"github.com/alanmeadows/scribe/internal/trigger"
)

// Orchestrator runs the event-to-run pipeline. Safe for concurrent use;
// each HandleEvent call is independent.
type Orchestrator struct {
	Host    host.Client
	Gateway *llm.Gateway
	Store   *session.Store
	Cfg     *config.Config
}

// New wires an orchestrator from its dependencies.
func New(hostClient host.Client, gateway *llm.Gateway, store *session.Store, cfg *config.Config) *Orchestrator {
	return &Orchestrator{Host: hostClient, Gateway: gateway, Store: store, Cfg: cfg}
}

// HandleEvent drives one event through classification, execution, and
// finalization. runID, when non-empty, pins the id the ingress already
// promised the caller. A duplicate delivery returns the existing run.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev trigger.Event, runID string) (*session.Run, error) {
	return o.handle(ctx, ev, runID, "")
}

// Retry re-executes a terminal run by synthesizing a fresh event from its
// commit. Deduplication does not apply; the new run links back to the prior.
func (o *Orchestrator) Retry(ctx context.Context, prior *session.Run, runID string) (*session.Run, error) {
	ev := trigger.Event{
		Kind:     trigger.EventPush,
		Commit:   prior.Commit,
		Branch:   prior.Branch,
		PRNumber: prior.PRNumber,
	}
	if prior.PRNumber > 0 {
		ev.Kind = trigger.EventPullRequest
		ev.Action = trigger.ActionSynchronize
	}
	return o.handle(ctx, ev, runID, prior.ID)
}

func (o *Orchestrator) handle(ctx context.Context, ev trigger.Event, runID, retryOf string) (*session.Run, error) {
	// A push to a branch with an open PR is classified push_with_pr.
	if ev.Kind == trigger.EventPush && ev.PRNumber == 0 && ev.Branch != "" {
		if pr, err := o.Host.FindPRByHead(ctx, ev.Branch); err == nil && pr != nil {
			ev.PRNumber = pr.Number
		}
	}

	if retryOf == "" {
		if dup := o.Store.FindDuplicate(ev.Commit, trigger.TypeOf(ev), o.Cfg.Automation.ParseDedupWindow()); dup != nil {
			slog.Info("duplicate delivery suppressed",
				"commit", shortCommit(ev.Commit), "trigger", dup.TriggerType, "existing_run", dup.ID)
			return dup, nil
		}
	}

	tc, err := o.buildContext(ctx, ev)
	if err != nil {
		// The ingress already promised runID in its 202, so the failure
		// must still leave a Run behind.
		return o.recordIngestFailure(ev, runID, retryOf, err)
	}

	run, err := o.Store.StartRun(tc, runID)
	if err != nil {
		return nil, fmt.Errorf("starting run: %w", err)
	}
	if retryOf != "" {
		if err := o.Store.LinkRetry(run.ID, retryOf); err != nil {
			slog.Warn("linking retry failed", "run", run.ID, "prior", retryOf, "error", err)
		}
	}
	slog.Info("run started", "run", run.ID, "trigger", tc.TriggerType, "run_type", tc.RunType,
		"commit", shortCommit(ev.Commit), "pr", ev.PRNumber,
		"diff_lines", tc.Analysis.TotalLines, "files", tc.Analysis.FilesChanged)

	if tc.RunType.IsSkip() {
		if err := o.Store.SkipRun(run.ID, tc.SkipReason, tc.RunType); err != nil {
			return nil, err
		}
		slog.Info("run skipped", "run", run.ID, "reason", tc.SkipReason)
		return o.Store.GetRun(run.ID)
	}

	if err := o.Store.MarkRunRunning(run.ID); err != nil {
		return nil, err
	}

	o.executeTasks(ctx, run.ID, tc)

	final, err := o.Store.FinalizeRun(run.ID)
	if err != nil {
		return nil, err
	}
	slog.Info("run finished", "run", final.ID, "status", final.Status,
		"prompt_tokens", final.Metrics.PromptTokens, "cost_usd", final.Metrics.CostUSD,
		"wall_ms", final.Metrics.WallTimeMS)
	return final, nil
}

// recordIngestFailure creates a terminal failed Run for an event whose diff
// could not be fetched, so no accepted delivery disappears without a record.
func (o *Orchestrator) recordIngestFailure(ev trigger.Event, runID, retryOf string, cause error) (*session.Run, error) {
	tc := &trigger.Context{
		Event:       ev,
		TriggerType: trigger.TypeOf(ev),
		RunType:     trigger.RunFullAutomation,
	}
	run, err := o.Store.StartRun(tc, runID)
	if err != nil {
		return nil, fmt.Errorf("recording failed ingest: %w", err)
	}
	if retryOf != "" {
		if err := o.Store.LinkRetry(run.ID, retryOf); err != nil {
			slog.Warn("linking retry failed", "run", run.ID, "prior", retryOf, "error", err)
		}
	}
	kind := tasks.ClassifyError(cause)
	if err := o.Store.FailRun(run.ID, "ingest", kind, cause.Error()); err != nil {
		slog.Error("recording ingest failure failed", "run", run.ID, "error", err)
	}
	slog.Error("run failed before dispatch", "run", run.ID, "commit", shortCommit(ev.Commit), "kind", kind)

	final, getErr := o.Store.GetRun(run.ID)
	if getErr != nil {
		return nil, getErr
	}
	return final, cause
}

// buildContext fetches and truncates the diff, analyzes it, and classifies
// the event.
func (o *Orchestrator) buildContext(ctx context.Context, ev trigger.Event) (*trigger.Context, error) {
	var diff string
	var err error
	if ev.Kind == trigger.EventPullRequest && ev.PRNumber > 0 {
		diff, err = o.Host.PRDiff(ctx, ev.PRNumber)
	} else {
		diff, err = o.Host.CommitDiff(ctx, ev.Commit)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching diff: %w", err)
	}

	if max := o.Cfg.Automation.DiffMaxBytes; max > 0 && len(diff) > max {
		slog.Debug("diff truncated", "commit", shortCommit(ev.Commit), "bytes", len(diff), "max", max)
		diff = diff[:max]
	}

	analysis := trigger.AnalyzeDiff(diff, o.Cfg.Trigger.TrivialMaxLines)
	tc := trigger.Classify(ev, analysis, trigger.Settings{
		Mode:                trigger.Mode(o.Cfg.Trigger.Mode),
		TrivialFilter:       o.Cfg.Trigger.IsTrivialFilterEnabled(),
		TrivialMaxLines:     o.Cfg.Trigger.TrivialMaxLines,
		DocsOnlyLightweight: o.Cfg.Trigger.DocsOnlyLightweight,
	})
	tc.Diff = diff
	return &tc, nil
}

// executeTasks fans out the parallel workers, then the review log, then the
// grouped automation PR. Worker failures never cancel peers.
func (o *Orchestrator) executeTasks(ctx context.Context, runID string, tc *trigger.Context) {
	repo := o.Cfg.GitHub.Repo
	review := &tasks.CodeReview{
		Host:           o.Host,
		Gateway:        o.Gateway,
		Repo:           repo,
		PostReviewOnPR: o.Cfg.Review.IsPostReviewOnPR(),
		PostAsIssue:    o.Cfg.Review.PostAsIssue,
		ContextLines:   o.Cfg.Review.ContextLines,
	}
	readme := &tasks.ReadmeUpdate{Host: o.Host, Gateway: o.Gateway, Repo: repo}
	spec := &tasks.SpecUpdate{Host: o.Host, Gateway: o.Gateway, Repo: repo}
	reviewLog := &tasks.ReviewLog{Host: o.Host, Gateway: o.Gateway}

	parallel := map[string]tasks.Task{
		trigger.TaskCodeReview:   review,
		trigger.TaskReadmeUpdate: readme,
		trigger.TaskSpecUpdate:   spec,
	}

	timeout := o.Cfg.Automation.ParseTaskTimeout()

	var mu sync.Mutex
	proposed := map[string]*tasks.Proposed{}
	reviewText := ""

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range tc.Tasks {
		task, ok := parallel[name]
		if !ok {
			continue
		}
		g.Go(func() error {
			out := o.runTask(gctx, runID, tc, task, timeout)
			mu.Lock()
			defer mu.Unlock()
			if out.Proposed != nil {
				proposed[out.Proposed.Path] = out.Proposed
			}
			if task.Name() == trigger.TaskCodeReview && out.Status == session.TaskSuccess {
				reviewText = out.Text
			}
			return nil
		})
	}
	_ = g.Wait()

	// The review log depends on the review output, so it runs after the
	// parallel phase.
	if containsTask(tc.Tasks, trigger.TaskReviewLog) {
		reviewLog.SetReview(reviewText)
		out := o.runTask(ctx, runID, tc, reviewLog, timeout)
		if out.Proposed != nil {
			proposed[out.Proposed.Path] = out.Proposed
		}
	}

	// Composition is gated on the doc workers: a run where only the review
	// log produced content opens no automation PR.
	_, readmeProposed := proposed["README.md"]
	_, specProposed := proposed["spec.md"]
	if o.Cfg.Automation.IsGroupUpdates() && (readmeProposed || specProposed) {
		if err := o.composeGroupedPR(ctx, runID, tc, proposed); err != nil {
			slog.Error("composing automation PR failed", "run", runID, "error", err)
		}
	}
}

// runTask wraps one worker: plan gate, status transitions, timeout, and
// outcome recording.
func (o *Orchestrator) runTask(ctx context.Context, runID string, tc *trigger.Context, task tasks.Task, timeout time.Duration) tasks.Outcome {
	name := task.Name()

	if !task.Plan(tc) {
		out := tasks.Outcome{Status: session.TaskSkipped, Summary: "not applicable for this change"}
		if err := o.Store.MarkTaskSkipped(runID, name, out.Summary); err != nil {
			slog.Error("recording task skip failed", "run", runID, "task", name, "error", err)
		}
		return out
	}

	if err := o.Store.MarkTaskRunning(runID, name); err != nil {
		slog.Error("recording task start failed", "run", runID, "task", name, "error", err)
	}

	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out := task.Execute(taskCtx, tc)

	var err error
	switch out.Status {
	case session.TaskSuccess:
		err = o.Store.MarkTaskSuccess(runID, name, out.Summary, out.Metrics)
	case session.TaskSkipped:
		err = o.Store.MarkTaskSkipped(runID, name, out.Summary)
	default:
		err = o.Store.MarkTaskFailed(runID, name, out.ErrKind, out.ErrMsg)
	}
	if err != nil {
		slog.Error("recording task outcome failed", "run", runID, "task", name, "error", err)
	}

	slog.Info("task finished", "run", runID, "task", name, "status", out.Status, "summary", out.Summary)
	return out
}

func containsTask(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func shortCommit(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
