// Package session is the durable record of automation runs. One JSON
// document holds every run; the store serializes mutations in-process and
// guards the file against other processes with an advisory lock.
package session

import (
	"fmt"
	"time"

	"github.com/alanmeadows/scribe/internal/trigger"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPending             RunStatus = "pending"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithIssues RunStatus = "completed_with_issues"
	RunFailed              RunStatus = "failed"
	RunSkipped             RunStatus = "skipped"
)

// IsTerminal reports whether the status admits no further writes.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunCompleted, RunCompletedWithIssues, RunFailed, RunSkipped:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a single task within a run.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskSuccess TaskStatus = "success"
	TaskFailed  TaskStatus = "failed"
	TaskSkipped TaskStatus = "skipped"
)

// TaskMetrics is the token and cost accounting for one task.
type TaskMetrics struct {
	PromptTokens     int     `json:"prompt_tokens,omitempty"`
	CompletionTokens int     `json:"completion_tokens,omitempty"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// Add accumulates other into m.
func (m *TaskMetrics) Add(other TaskMetrics) {
	m.PromptTokens += other.PromptTokens
	m.CompletionTokens += other.CompletionTokens
	m.CostUSD += other.CostUSD
}

// TaskRecord is the stored outcome of one task.
type TaskRecord struct {
	Name         string      `json:"name"`
	Status       TaskStatus  `json:"status"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
	Summary      string      `json:"summary,omitempty"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Metrics      TaskMetrics `json:"metrics,omitempty"`
}

// TaskError is the failure detail exposed per failed task.
type TaskError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// RunMetrics aggregates task metrics plus wall time.
type RunMetrics struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
	WallTimeMS       int64   `json:"wall_time_ms"`
}

// Run is the top-level record for one orchestrated automation.
type Run struct {
	ID           string                `json:"id"`
	Commit       string                `json:"commit"`
	Branch       string                `json:"branch,omitempty"`
	PRNumber     int                   `json:"pr_number,omitempty"`
	TriggerType  trigger.Type          `json:"trigger_type"`
	RunType      trigger.RunType       `json:"run_type"`
	Status       RunStatus             `json:"status"`
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      *time.Time            `json:"ended_at,omitempty"`
	SkipReason   string                `json:"skip_reason,omitempty"`
	Diff         trigger.DiffAnalysis  `json:"diff"`
	Tasks        []TaskRecord          `json:"tasks,omitempty"`
	Metrics      RunMetrics            `json:"metrics"`
	FailedTasks  []string              `json:"failed_tasks,omitempty"`
	TaskErrors   map[string]TaskError  `json:"task_errors,omitempty"`
	AutomationPR int                   `json:"automation_pr,omitempty"`
	RetryOf      string                `json:"retry_of,omitempty"`
}

// NewRunID derives a run id from the commit and the current clock: the first
// eight characters of the commit plus the Unix millisecond timestamp.
func NewRunID(commit string) string {
	short := commit
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%d", short, time.Now().UnixMilli())
}
