// Package trigger classifies inbound repository events into run types.
// Classification is a pure function of the event, the diff analysis, and the
// configured trigger mode, so it is deterministic and directly testable.
package trigger

// EventKind is the webhook event family.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// Action is the pull_request sub-action.
type Action string

const (
	ActionOpened      Action = "opened"
	ActionSynchronize Action = "synchronize"
	ActionReopened    Action = "reopened"
	ActionOther       Action = "other"
)

// Mode selects which event kinds trigger work.
type Mode string

const (
	ModePR   Mode = "pr"
	ModePush Mode = "push"
	ModeBoth Mode = "both"
)

// Type is the classified trigger type recorded on a run.
type Type string

const (
	TriggerPushWithoutPR  Type = "push_without_pr"
	TriggerPushWithPR     Type = "push_with_pr"
	TriggerPROpened       Type = "pr_opened"
	TriggerPRSynchronized Type = "pr_synchronized"
	TriggerPRReopened     Type = "pr_reopened"
)

// RunType is the classified run type.
type RunType string

const (
	RunFullAutomation       RunType = "full_automation"
	RunLightweightOnly      RunType = "lightweight_only"
	RunPartial              RunType = "partial"
	RunSkippedTrivialChange RunType = "skipped_trivial_change"
	RunSkippedDocsOnly      RunType = "skipped_docs_only"
	RunSkippedByTriggerMode RunType = "skipped_by_trigger_mode"
)

// IsSkip reports whether the run type is a skip variant that attempts no tasks.
// skipped_docs_only still runs the doc tasks; only code review is dropped.
func (r RunType) IsSkip() bool {
	return r == RunSkippedTrivialChange || r == RunSkippedByTriggerMode
}

// Task names, shared with the session store and the workers.
const (
	TaskCodeReview   = "code_review"
	TaskReadmeUpdate = "readme_update"
	TaskSpecUpdate   = "spec_update"
	TaskReviewLog    = "review_log"
)

// Event is the normalized inbound event handed to classification.
type Event struct {
	Kind     EventKind
	Action   Action
	Commit   string
	Branch   string
	PRNumber int // 0 when no PR is associated
}

// Context is the immutable classification + diff snapshot for one run.
// Computed once by the orchestrator; never mutated afterwards.
type Context struct {
	Event       Event
	TriggerType Type
	RunType     RunType
	SkipReason  string
	Diff        string // truncated to the configured size
	Analysis    DiffAnalysis
	Tasks       []string
}

// Settings are the configuration inputs to classification.
type Settings struct {
	Mode                Mode
	TrivialFilter       bool
	TrivialMaxLines     int
	DocsOnlyLightweight bool
}

// Classify decides whether an event triggers any work and what kind.
func Classify(ev Event, analysis DiffAnalysis, s Settings) Context {
	tc := Context{
		Event:       ev,
		TriggerType: triggerType(ev),
		Analysis:    analysis,
	}

	// (a) trigger-mode gate.
	switch ev.Kind {
	case EventPush:
		if s.Mode == ModePR {
			tc.RunType = RunSkippedByTriggerMode
			tc.SkipReason = "Push events disabled by trigger mode"
			return tc
		}
	case EventPullRequest:
		if s.Mode == ModePush {
			tc.RunType = RunSkippedByTriggerMode
			tc.SkipReason = "Pull request events disabled by trigger mode"
			return tc
		}
		// (b) only the lifecycle actions trigger work.
		switch ev.Action {
		case ActionOpened, ActionSynchronize, ActionReopened:
		default:
			tc.RunType = RunSkippedByTriggerMode
			tc.SkipReason = "Unhandled pull request action"
			return tc
		}
	}

	// (c) trivial diffs are skipped outright.
	if s.TrivialFilter && analysis.Trivial {
		tc.RunType = RunSkippedTrivialChange
		tc.SkipReason = analysis.TrivialReason
		if tc.SkipReason == "" {
			tc.SkipReason = "Trivial change"
		}
		return tc
	}

	// (d) doc-only diffs drop code review but keep the doc tasks.
	if analysis.DocOnly {
		if s.DocsOnlyLightweight {
			tc.RunType = RunLightweightOnly
		} else {
			tc.RunType = RunSkippedDocsOnly
		}
		tc.Tasks = []string{TaskReadmeUpdate, TaskSpecUpdate}
		return tc
	}

	tc.RunType = RunFullAutomation
	tc.Tasks = []string{TaskCodeReview, TaskReadmeUpdate, TaskSpecUpdate, TaskReviewLog}
	return tc
}

// TypeOf maps an event to its trigger type without full classification.
// Used for re-delivery deduplication before the diff is fetched.
func TypeOf(ev Event) Type {
	return triggerType(ev)
}

func triggerType(ev Event) Type {
	switch ev.Kind {
	case EventPush:
		if ev.PRNumber > 0 {
			return TriggerPushWithPR
		}
		return TriggerPushWithoutPR
	default:
		switch ev.Action {
		case ActionSynchronize:
			return TriggerPRSynchronized
		case ActionReopened:
			return TriggerPRReopened
		default:
			return TriggerPROpened
		}
	}
}
