package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	gh "github.com/google/go-github/v82/github"

	"github.com/alanmeadows/scribe/internal/logging"
	"github.com/alanmeadows/scribe/internal/session"
	"github.com/alanmeadows/scribe/internal/trigger"
)

// acceptedResponse is the 202 body for an ingested event.
type acceptedResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
}

// handleWebhook authenticates the payload, normalizes the event, and hands
// it to the orchestrator in the background. Ingest never returns 5xx for
// downstream faults.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := gh.ValidatePayload(r, []byte(s.cfg.Server.WebhookSecret))
	if err != nil {
		slog.Warn("webhook signature rejected",
			"request", r.Method+" "+logging.RedactURL(r.URL.Path), "remote", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	eventType := gh.WebHookType(r)
	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		slog.Debug("unparseable webhook payload", "type", eventType, "error", err)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	ev, ok := normalizeEvent(event)
	if !ok {
		slog.Debug("ignoring webhook event", "type", eventType)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	runID := session.NewRunID(ev.Commit)
	slog.Info("webhook accepted", "type", eventType, "commit", ev.Commit, "pr", ev.PRNumber, "run", runID)

	s.dispatch(ev, runID)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(acceptedResponse{Status: "accepted", RunID: runID})
}

// normalizeEvent maps supported host events onto the trigger event shape.
func normalizeEvent(event any) (trigger.Event, bool) {
	switch e := event.(type) {
	case *gh.PushEvent:
		commit := e.GetAfter()
		if commit == "" && e.GetHeadCommit() != nil {
			commit = e.GetHeadCommit().GetID()
		}
		if commit == "" || commit == strings.Repeat("0", 40) {
			// Branch deletions push a zero head.
			return trigger.Event{}, false
		}
		return trigger.Event{
			Kind:   trigger.EventPush,
			Commit: commit,
			Branch: strings.TrimPrefix(e.GetRef(), "refs/heads/"),
		}, true

	case *gh.PullRequestEvent:
		pr := e.GetPullRequest()
		return trigger.Event{
			Kind:     trigger.EventPullRequest,
			Action:   prAction(e.GetAction()),
			Commit:   pr.GetHead().GetSHA(),
			Branch:   pr.GetHead().GetRef(),
			PRNumber: pr.GetNumber(),
		}, true
	}
	return trigger.Event{}, false
}

func prAction(action string) trigger.Action {
	switch action {
	case "opened":
		return trigger.ActionOpened
	case "synchronize":
		return trigger.ActionSynchronize
	case "reopened":
		return trigger.ActionReopened
	default:
		return trigger.ActionOther
	}
}
