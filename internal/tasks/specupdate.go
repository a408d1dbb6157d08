package tasks

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alanmeadows/scribe/internal/host"
	"github.com/alanmeadows/scribe/internal/llm"
	"github.com/alanmeadows/scribe/internal/prompts"
	"github.com/alanmeadows/scribe/internal/trigger"
)

const devLogHeading = "## Development Log"

var lastUpdatedRe = regexp.MustCompile(`(?m)^\*\*Last Updated:\*\*.*$`)

// SpecUpdate appends a dated entry to spec.md's development log and
// refreshes its Last Updated stamp. The entry is always appended at the end
// of the file, never inserted mid-document.
type SpecUpdate struct {
	Host    host.Client
	Gateway *llm.Gateway
	Repo    string

	// now is the clock, overridable in tests.
	now func() time.Time
}

func (s *SpecUpdate) Name() string { return trigger.TaskSpecUpdate }

func (s *SpecUpdate) Plan(tc *trigger.Context) bool { return true }

func (s *SpecUpdate) Execute(ctx context.Context, tc *trigger.Context) Outcome {
	current, err := s.Host.GetFile(ctx, "spec.md", "")
	if err != nil {
		if host.IsNotFound(err) {
			return skipped("no spec.md in repository")
		}
		return failure(fmt.Errorf("reading spec.md: %w", err), llm.Usage{})
	}

	diff, err := diffFor(ctx, s.Host, tc)
	if err != nil {
		return failure(fmt.Errorf("fetching diff: %w", err), llm.Usage{})
	}

	date := s.clock()().Format("2006-01-02")
	data := map[string]string{
		"Repo":   s.Repo,
		"Date":   date,
		"Commit": tc.Event.Commit,
		"Diff":   diff,
	}
	if tc.Event.PRNumber > 0 {
		data["PRNumber"] = strconv.Itoa(tc.Event.PRNumber)
	}

	prompt, err := prompts.Execute("spec-update.md", data)
	if err != nil {
		return failure(fmt.Errorf("building spec prompt: %w", err), llm.Usage{})
	}

	entry, usage, err := s.Gateway.Generate(ctx, llm.Request{
		System: "You maintain concise engineering logs.",
		Prompt: prompt,
	})
	if err != nil {
		return failure(fmt.Errorf("generating log entry: %w", err), llm.Usage{})
	}

	updated := appendLogEntry(current, strings.TrimSpace(entry), date)

	out := success(fmt.Sprintf("appended development log entry for %s", date), usage)
	out.Proposed = &Proposed{Path: "spec.md", Content: updated}
	return out
}

func (s *SpecUpdate) clock() func() time.Time {
	if s.now != nil {
		return s.now
	}
	return time.Now
}

// appendLogEntry refreshes the Last Updated stamp and appends the entry,
// adding the Development Log heading when the document lacks one.
func appendLogEntry(doc, entry, date string) string {
	doc = lastUpdatedRe.ReplaceAllString(doc, "**Last Updated:** "+date)

	out := strings.TrimRight(doc, "\n")
	if !strings.Contains(doc, devLogHeading) {
		out += "\n\n" + devLogHeading
	}
	return out + "\n\n" + entry + "\n"
}

var _ Task = (*SpecUpdate)(nil)
