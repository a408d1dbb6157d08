package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanmeadows/scribe/internal/session"
	"github.com/alanmeadows/scribe/internal/trigger"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// LivenessResponse is the JSON response for GET /.
type LivenessResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "invalid since, want RFC3339", http.StatusBadRequest)
			return
		}
		since = t
	}

	runs := s.store.ListRuns(limit, since)
	if runs == nil {
		runs = []*session.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistoryByPR(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(r.PathValue("pr_number"))
	if err != nil || number <= 0 {
		http.Error(w, "invalid PR number", http.StatusBadRequest)
		return
	}
	runs := s.store.ListByPR(number)
	if runs == nil {
		runs = []*session.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistorySkipped(w http.ResponseWriter, r *http.Request) {
	runs := s.store.ListSkipped()
	if runs == nil {
		runs = []*session.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// MetricsResponse aggregates store-wide counters for the dashboard.
type MetricsResponse struct {
	session.Totals
	SuccessRate float64 `json:"success_rate"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	totals := s.store.ComputeTotals()

	terminal := totals.Completed + totals.WithIssues + totals.Failed
	rate := 0.0
	if terminal > 0 {
		rate = float64(totals.Completed+totals.WithIssues) / float64(terminal)
	}
	writeJSON(w, http.StatusOK, MetricsResponse{Totals: totals, SuccessRate: rate})
}

// TriggerConfigResponse is the read-only trigger configuration view.
type TriggerConfigResponse struct {
	Mode                 string `json:"mode"`
	TrivialFilterEnabled bool   `json:"trivial_filter_enabled"`
	TrivialMaxLines      int    `json:"trivial_max_lines"`
	DocsOnlyLightweight  bool   `json:"docs_only_lightweight"`
}

func (s *Server) handleTriggerConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, TriggerConfigResponse{
		Mode:                 s.cfg.Trigger.Mode,
		TrivialFilterEnabled: s.cfg.Trigger.IsTrivialFilterEnabled(),
		TrivialMaxLines:      s.cfg.Trigger.TrivialMaxLines,
		DocsOnlyLightweight:  s.cfg.Trigger.DocsOnlyLightweight,
	})
}

// ManualRunRequest is the JSON body for POST /api/manual-run.
type ManualRunRequest struct {
	CommitSHA string `json:"commit_sha"`
	Branch    string `json:"branch"`
}

func (s *Server) handleManualRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req ManualRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.CommitSHA == "" && req.Branch == "" {
		http.Error(w, "commit_sha or branch is required", http.StatusBadRequest)
		return
	}

	ev := trigger.Event{Kind: trigger.EventPush, Commit: req.CommitSHA, Branch: req.Branch}
	runID := session.NewRunID(ev.Commit)
	s.dispatch(ev, runID)

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", RunID: runID})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	run, err := s.store.GetRun(runID)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if !run.Status.IsTerminal() {
		http.Error(w, "run is still active", http.StatusConflict)
		return
	}

	newID := session.NewRunID(run.Commit)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.Retry(s.dispatchCtx, run, newID); err != nil {
			slog.Error("retry orchestration failed", "run", newID, "prior", run.ID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, acceptedResponse{Status: "accepted", RunID: newID})
}
