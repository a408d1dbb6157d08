// Package tasks holds the four automation workers. Each worker is a Task:
// the orchestrator calls Plan to let the worker decline pre-execution, then
// Execute, which always returns a typed Outcome rather than aborting peers.
package tasks

import (
	"context"
	"errors"

	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/session"
	"github.com/alanmeadows/scribe/internal/trigger"
)

// Error kinds surfaced on failed task records.
const (
	ErrHostAPI        = "host_api_error"
	ErrHostAuth       = "host_auth_error"
	ErrHostNotFound   = "host_not_found"
	ErrHostRateLimit  = "host_rate_limited"
	ErrLLM            = "llm_error"
	ErrProvider       = "provider_error"
	ErrPostSideEffect = "post_side_effect_failed"
	ErrCancelled      = "cancelled"
	ErrInterrupted    = "interrupted"
	ErrUnknown        = "unknown"
)

// Proposed is a file blob a worker wants landed on the automation branch.
type Proposed struct {
	Path    string
	Content string
}

// Outcome is the result of one worker execution.
type Outcome struct {
	Status   session.TaskStatus
	Summary  string
	ErrKind  string
	ErrMsg   string
	Metrics  session.TaskMetrics
	Proposed *Proposed

	// Text carries generated content peers consume, such as the review
	// body the log updater summarizes.
	Text string
}

// Task is the capability set the orchestrator drives.
type Task interface {
	Name() string

	// Plan reports whether the task should run for this trigger.
	Plan(tc *trigger.Context) bool

	// Execute runs the task. Failures are reported in the outcome, never
	// as panics or peer aborts.
	Execute(ctx context.Context, tc *trigger.Context) Outcome
}

// success builds a successful outcome.
func success(summary string, usage llm.Usage) Outcome {
	return Outcome{Status: session.TaskSuccess, Summary: summary, Metrics: metricsFrom(usage)}
}

// skipped builds a skipped outcome.
func skipped(reason string) Outcome {
	return Outcome{Status: session.TaskSkipped, Summary: reason}
}

// failure classifies err and builds a failed outcome.
func failure(err error, usage llm.Usage) Outcome {
	return Outcome{
		Status:  session.TaskFailed,
		ErrKind: classify(err),
		ErrMsg:  err.Error(),
		Metrics: metricsFrom(usage),
	}
}

func metricsFrom(usage llm.Usage) session.TaskMetrics {
	return session.TaskMetrics{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		CostUSD:          usage.CostUSD,
	}
}

// ClassifyError maps an error chain to a task error kind. The orchestrator
// uses it to record failures that happen before any worker runs, such as the
// diff fetch.
func ClassifyError(err error) string {
	return classify(err)
}

// classify maps an error chain to a task error kind.
func classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrCancelled
	}

	var he *host.Error
	if errors.As(err, &he) {
		switch he.Kind {
		case host.KindAuth:
			return ErrHostAuth
		case host.KindNotFound:
			return ErrHostNotFound
		case host.KindRateLimited:
			return ErrHostRateLimit
		default:
			return ErrHostAPI
		}
	}

	var le *llm.Error
	if errors.As(err, &le) {
		if le.Kind == llm.KindTimeout {
			return ErrCancelled
		}
		return ErrLLM
	}

	return ErrUnknown
}

// diffFor returns the trigger's diff, fetching it from the host when the
// context copy is empty.
func diffFor(ctx context.Context, client host.Client, tc *trigger.Context) (string, error) {
	if tc.Diff != "" {
		return tc.Diff, nil
	}
	if tc.Event.PRNumber > 0 {
		return client.PRDiff(ctx, tc.Event.PRNumber)
	}
	return client.CommitDiff(ctx, tc.Event.Commit)
}

func shortCommit(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
