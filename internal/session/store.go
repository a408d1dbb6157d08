package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/alanmeadows/scribe/internal/trigger"
)

const schemaVersion = 1

// flushAfterMutations and flushInterval bound how long a mutation can sit
// in memory before it reaches disk, whichever comes first.
const (
	flushAfterMutations = 5
	flushInterval       = 10 * time.Second
)

// startupGrace is how recent a rehydrated running run must be to survive
// the interrupted sweep.
const startupGrace = time.Minute

// ErrTerminalRun rejects writes to a run that already reached a terminal
// status.
var ErrTerminalRun = errors.New("run is in a terminal status")

// ErrRunNotFound reports an unknown run id.
var ErrRunNotFound = errors.New("run not found")

type document struct {
	SchemaVersion int    `json:"schema_version"`
	Runs          []*Run `json:"runs"`
}

// Store is the durable run store. All methods are safe for concurrent use.
type Store struct {
	path string

	mu    sync.Mutex
	doc   document
	index map[string]*Run
	dirty int

	stopFlush chan struct{}
	flushDone chan struct{}
}

// Open loads the store at path, creating it when absent, and sweeps runs
// left non-terminal by a previous process. It starts the background flush
// ticker; callers must Close.
func Open(path string) (*Store, error) {
	s := &Store{
		path:      path,
		doc:       document{SchemaVersion: schemaVersion},
		index:     map[string]*Run{},
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating session dir: %w", err)
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	s.sweepInterrupted()

	go s.flushLoop()
	return s, nil
}

func (s *Store) load() error {
	var data []byte
	err := withReadLock(s.path, lockTimeout, func() error {
		var readErr error
		data, readErr = os.ReadFile(s.path)
		return readErr
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading session store %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &s.doc); err != nil {
		return fmt.Errorf("parsing session store %s: %w", s.path, err)
	}
	if s.doc.SchemaVersion == 0 {
		s.doc.SchemaVersion = schemaVersion
	}
	for _, run := range s.doc.Runs {
		s.index[run.ID] = run
	}
	slog.Debug("session store loaded", "path", s.path, "runs", len(s.doc.Runs))
	return nil
}

// sweepInterrupted marks runs that a previous process left pending or
// running as failed with kind interrupted.
func (s *Store) sweepInterrupted() {
	cutoff := time.Now().Add(-startupGrace)
	swept := 0
	for _, run := range s.doc.Runs {
		if run.Status.IsTerminal() || run.StartedAt.After(cutoff) {
			continue
		}
		now := time.Now()
		for i := range run.Tasks {
			t := &run.Tasks[i]
			if t.Status == TaskRunning || t.Status == TaskPending {
				t.Status = TaskFailed
				t.ErrorKind = "interrupted"
				t.ErrorMessage = "process restarted mid-run"
				t.EndedAt = &now
			}
		}
		run.Status = RunFailed
		run.EndedAt = &now
		s.recomputeFailures(run)
		swept++
	}
	if swept > 0 {
		slog.Warn("marked stale runs as interrupted", "count", swept)
		s.dirty++
	}
}

func (s *Store) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	defer close(s.flushDone)
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			if s.dirty > 0 {
				if err := s.flushLocked(); err != nil {
					slog.Error("session store flush failed", "error", err)
				}
			}
			s.mu.Unlock()
		case <-s.stopFlush:
			return
		}
	}
}

// Close flushes pending mutations and stops the background ticker.
func (s *Store) Close() error {
	close(s.stopFlush)
	<-s.flushDone
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

// flushLocked writes the document with fsync, temp file, and rename, under
// the advisory lock. Caller holds s.mu.
func (s *Store) flushLocked() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session store: %w", err)
	}
	err = withLock(s.path, lockTimeout, func() error {
		return atomicWriteFile(s.path, data, 0644)
	})
	if err != nil {
		return fmt.Errorf("writing session store %s: %w", s.path, err)
	}
	s.dirty = 0
	return nil
}

// markDirty counts a mutation and flushes once the buffer bound is hit.
// Caller holds s.mu.
func (s *Store) markDirty() {
	s.dirty++
	if s.dirty >= flushAfterMutations {
		if err := s.flushLocked(); err != nil {
			slog.Error("session store flush failed", "error", err)
		}
	}
}

// StartRun records a new pending run for the trigger context. When runID is
// empty one is derived from the commit.
func (s *Store) StartRun(tc *trigger.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		runID = NewRunID(tc.Event.Commit)
	}
	for s.index[runID] != nil {
		runID = NewRunID(tc.Event.Commit)
	}

	run := &Run{
		ID:          runID,
		Commit:      tc.Event.Commit,
		Branch:      tc.Event.Branch,
		PRNumber:    tc.Event.PRNumber,
		TriggerType: tc.TriggerType,
		RunType:     tc.RunType,
		Status:      RunPending,
		StartedAt:   time.Now(),
		Diff:        tc.Analysis,
		TaskErrors:  map[string]TaskError{},
	}
	for _, name := range tc.Tasks {
		run.Tasks = append(run.Tasks, TaskRecord{Name: name, Status: TaskPending})
	}

	s.doc.Runs = append(s.doc.Runs, run)
	s.index[run.ID] = run
	s.markDirty()
	return cloneRun(run), nil
}

// MarkRunRunning transitions a pending run to running at task dispatch.
func (s *Store) MarkRunRunning(runID string) error {
	return s.mutate(runID, func(run *Run) error {
		run.Status = RunRunning
		return nil
	})
}

// MarkTaskRunning transitions a task to running.
func (s *Store) MarkTaskRunning(runID, taskName string) error {
	return s.mutateTask(runID, taskName, func(t *TaskRecord) {
		now := time.Now()
		t.Status = TaskRunning
		t.StartedAt = &now
	})
}

// MarkTaskSuccess records a successful task with its summary and metrics.
func (s *Store) MarkTaskSuccess(runID, taskName, summary string, metrics TaskMetrics) error {
	return s.mutateTask(runID, taskName, func(t *TaskRecord) {
		now := time.Now()
		t.Status = TaskSuccess
		t.Summary = summary
		t.Metrics = metrics
		t.EndedAt = &now
	})
}

// MarkTaskSkipped records a task the worker declined to run.
func (s *Store) MarkTaskSkipped(runID, taskName, reason string) error {
	return s.mutateTask(runID, taskName, func(t *TaskRecord) {
		now := time.Now()
		t.Status = TaskSkipped
		t.Summary = reason
		t.EndedAt = &now
	})
}

// MarkTaskFailed records a failed task with its error classification.
func (s *Store) MarkTaskFailed(runID, taskName, errorKind, message string) error {
	return s.mutateTask(runID, taskName, func(t *TaskRecord) {
		now := time.Now()
		t.Status = TaskFailed
		t.ErrorKind = errorKind
		t.ErrorMessage = message
		t.EndedAt = &now
	})
}

// FinalizeRun computes the terminal status from the task statuses:
// completed when every attempted task succeeded, failed when none did,
// completed_with_issues otherwise. Double finalize is a no-op.
func (s *Store) FinalizeRun(runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.index[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status.IsTerminal() {
		return cloneRun(run), nil
	}

	var succeeded, failed, attempted int
	var metrics RunMetrics
	for _, t := range run.Tasks {
		switch t.Status {
		case TaskSuccess:
			succeeded++
			attempted++
		case TaskFailed:
			failed++
			attempted++
		}
		metrics.PromptTokens += t.Metrics.PromptTokens
		metrics.CompletionTokens += t.Metrics.CompletionTokens
		metrics.CostUSD += t.Metrics.CostUSD
	}

	switch {
	case attempted == 0:
		run.Status = RunCompleted
	case failed == 0:
		run.Status = RunCompleted
	case succeeded == 0:
		run.Status = RunFailed
	default:
		run.Status = RunCompletedWithIssues
	}

	now := time.Now()
	run.EndedAt = &now
	metrics.WallTimeMS = now.Sub(run.StartedAt).Milliseconds()
	run.Metrics = metrics
	s.recomputeFailures(run)

	s.markDirty()
	return cloneRun(run), nil
}

// SkipRun terminally marks a run skipped with no tasks attempted.
func (s *Store) SkipRun(runID, reason string, runType trigger.RunType) error {
	return s.mutate(runID, func(run *Run) error {
		now := time.Now()
		run.Status = RunSkipped
		run.RunType = runType
		run.SkipReason = reason
		run.EndedAt = &now
		run.Tasks = nil
		return nil
	})
}

// FailRun terminally marks a run failed before any task ran, recording the
// failure under the given name so the dashboard surfaces it like a task
// error.
func (s *Store) FailRun(runID, name, errKind, message string) error {
	return s.mutate(runID, func(run *Run) error {
		now := time.Now()
		run.Status = RunFailed
		run.EndedAt = &now
		run.Metrics.WallTimeMS = now.Sub(run.StartedAt).Milliseconds()
		if run.TaskErrors == nil {
			run.TaskErrors = map[string]TaskError{}
		}
		run.FailedTasks = append(run.FailedTasks, name)
		run.TaskErrors[name] = TaskError{Kind: errKind, Message: message}
		return nil
	})
}

// LinkRetry marks a run as the retry of a prior run.
func (s *Store) LinkRetry(runID, priorID string) error {
	return s.mutate(runID, func(run *Run) error {
		run.RetryOf = priorID
		return nil
	})
}

// RecordAutomationPR sets the produced automation-PR number, at most once.
func (s *Store) RecordAutomationPR(runID string, prNumber int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.index[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.AutomationPR != 0 {
		return fmt.Errorf("run %s already has automation PR #%d", runID, run.AutomationPR)
	}
	run.AutomationPR = prNumber
	s.markDirty()
	return nil
}

// GetRun returns a copy of the run, or ErrRunNotFound.
func (s *Store) GetRun(runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.index[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return cloneRun(run), nil
}

// ListRuns returns runs newest-first, bounded by limit (0 = all) and
// filtered to runs started after since when non-zero.
func (s *Store) ListRuns(limit int, since time.Time) []*Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Run, 0, len(s.doc.Runs))
	for _, run := range s.doc.Runs {
		if !since.IsZero() && run.StartedAt.Before(since) {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ListByPR returns runs for the given source PR, newest-first.
func (s *Store) ListByPR(prNumber int) []*Run {
	all := s.ListRuns(0, time.Time{})
	out := all[:0]
	for _, run := range all {
		if run.PRNumber == prNumber {
			out = append(out, run)
		}
	}
	return out
}

// ListSkipped returns skipped runs, newest-first.
func (s *Store) ListSkipped() []*Run {
	all := s.ListRuns(0, time.Time{})
	out := all[:0]
	for _, run := range all {
		if run.Status == RunSkipped {
			out = append(out, run)
		}
	}
	return out
}

// FindDuplicate returns a non-terminal run with the same commit and trigger
// type started within the window, or nil. Used for webhook re-delivery
// suppression; a finished or interrupted run never suppresses a re-delivery.
func (s *Store) FindDuplicate(commit string, triggerType trigger.Type, window time.Duration) *Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-window)
	for i := len(s.doc.Runs) - 1; i >= 0; i-- {
		run := s.doc.Runs[i]
		if run.StartedAt.Before(cutoff) {
			break
		}
		if run.Status.IsTerminal() {
			continue
		}
		if run.Commit == commit && run.TriggerType == triggerType {
			return cloneRun(run)
		}
	}
	return nil
}

// Totals aggregates store-wide metrics for the dashboard.
type Totals struct {
	Runs             int     `json:"runs"`
	Completed        int     `json:"completed"`
	WithIssues       int     `json:"completed_with_issues"`
	Failed           int     `json:"failed"`
	Skipped          int     `json:"skipped"`
	Active           int     `json:"active"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// ComputeTotals walks all runs and returns the aggregate counters.
func (s *Store) ComputeTotals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()

	var t Totals
	for _, run := range s.doc.Runs {
		t.Runs++
		switch run.Status {
		case RunCompleted:
			t.Completed++
		case RunCompletedWithIssues:
			t.WithIssues++
		case RunFailed:
			t.Failed++
		case RunSkipped:
			t.Skipped++
		default:
			t.Active++
		}
		t.PromptTokens += run.Metrics.PromptTokens
		t.CompletionTokens += run.Metrics.CompletionTokens
		t.CostUSD += run.Metrics.CostUSD
	}
	return t
}

// ReadRuns loads the store file without taking ownership of it, newest-first.
// CLI commands use this to inspect history while the daemon owns the store;
// unlike Open it never mutates the document.
func ReadRuns(path string) ([]*Run, error) {
	var data []byte
	err := withReadLock(path, lockTimeout, func() error {
		var readErr error
		data, readErr = os.ReadFile(path)
		return readErr
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading session store %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing session store %s: %w", path, err)
	}
	sort.Slice(doc.Runs, func(i, j int) bool { return doc.Runs[i].StartedAt.After(doc.Runs[j].StartedAt) })
	return doc.Runs, nil
}

// mutate applies fn to a non-terminal run under the lock.
func (s *Store) mutate(runID string, fn func(*Run) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.index[runID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s (%s)", ErrTerminalRun, runID, run.Status)
	}
	if err := fn(run); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

func (s *Store) mutateTask(runID, taskName string, fn func(*TaskRecord)) error {
	return s.mutate(runID, func(run *Run) error {
		for i := range run.Tasks {
			if run.Tasks[i].Name == taskName {
				fn(&run.Tasks[i])
				return nil
			}
		}
		return fmt.Errorf("run %s has no task %s", runID, taskName)
	})
}

// recomputeFailures rebuilds the failed-task list and error map. Caller
// holds s.mu.
func (s *Store) recomputeFailures(run *Run) {
	run.FailedTasks = nil
	if run.TaskErrors == nil {
		run.TaskErrors = map[string]TaskError{}
	}
	for _, t := range run.Tasks {
		if t.Status == TaskFailed {
			run.FailedTasks = append(run.FailedTasks, t.Name)
			run.TaskErrors[t.Name] = TaskError{Kind: t.ErrorKind, Message: t.ErrorMessage}
		}
	}
}

func cloneRun(run *Run) *Run {
	out := *run
	out.Tasks = append([]TaskRecord(nil), run.Tasks...)
	out.FailedTasks = append([]string(nil), run.FailedTasks...)
	out.TaskErrors = make(map[string]TaskError, len(run.TaskErrors))
	for k, v := range run.TaskErrors {
		out.TaskErrors[k] = v
	}
	return &out
}
