package tasks

import (
	"context"
	"fmt"

	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/prompts"
	"github.com/alanmeadows/scribe/internal/trigger"
)

// ReadmeUpdate regenerates README sections the change made stale. It never
// opens a PR itself; it emits a proposed blob the orchestrator groups.
type ReadmeUpdate struct {
	Host    host.Client
	Gateway *llm.Gateway
	Repo    string
}

func (r *ReadmeUpdate) Name() string { return trigger.TaskReadmeUpdate }

func (r *ReadmeUpdate) Plan(tc *trigger.Context) bool { return true }

func (r *ReadmeUpdate) Execute(ctx context.Context, tc *trigger.Context) Outcome {
	current, err := r.Host.GetFile(ctx, "README.md", "")
	if err != nil {
		if host.IsNotFound(err) {
			return skipped("no README.md in repository")
		}
		return failure(fmt.Errorf("reading README.md: %w", err), llm.Usage{})
	}

	diff, err := diffFor(ctx, r.Host, tc)
	if err != nil {
		return failure(fmt.Errorf("fetching diff: %w", err), llm.Usage{})
	}

	prompt, err := prompts.Execute("readme-update.md", map[string]string{
		"Repo":    r.Repo,
		"Readme":  current,
		"Summary": fmt.Sprintf("%d files changed, +%d/-%d lines", tc.Analysis.FilesChanged, tc.Analysis.Added, tc.Analysis.Removed),
		"Diff":    diff,
	})
	if err != nil {
		return failure(fmt.Errorf("building README prompt: %w", err), llm.Usage{})
	}

	updated, usage, err := r.Gateway.Generate(ctx, llm.Request{
		System: "You are a meticulous technical writer maintaining project documentation.",
		Prompt: prompt,
	})
	if err != nil {
		return failure(fmt.Errorf("generating README: %w", err), llm.Usage{})
	}

	if updated == current {
		out := skipped("no_changes")
		out.Metrics = metricsFrom(usage)
		return out
	}

	out := success("regenerated README.md", usage)
	out.Proposed = &Proposed{Path: "README.md", Content: updated}
	return out
}

var _ Task = (*ReadmeUpdate)(nil)
