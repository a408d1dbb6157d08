package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/scribe/internal/config"
	"github.com/alanmeadows/scribe/internal/session"
	"github.com/alanmeadows/scribe/internal/trigger"
)

const testSecret = "test-webhook-secret"

// fakeRunner records dispatches and creates a run synchronously so tests
// can assert store contents after the handler returns.
type fakeRunner struct {
	store *session.Store
	done  chan trigger.Event
}

func (f *fakeRunner) HandleEvent(ctx context.Context, ev trigger.Event, runID string) (*session.Run, error) {
	tc := &trigger.Context{
		Event:       ev,
		TriggerType: trigger.TypeOf(ev),
		RunType:     trigger.RunFullAutomation,
	}
	run, err := f.store.StartRun(tc, runID)
	f.done <- ev
	return run, err
}

func (f *fakeRunner) Retry(ctx context.Context, prior *session.Run, runID string) (*session.Run, error) {
	ev := trigger.Event{Kind: trigger.EventPush, Commit: prior.Commit, Branch: prior.Branch}
	return f.HandleEvent(ctx, ev, runID)
}

type testServer struct {
	srv    *Server
	store  *session.Store
	runner *fakeRunner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.WebhookSecret = testSecret

	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := &fakeRunner{store: store, done: make(chan trigger.Event, 4)}
	return &testServer{srv: New(&cfg, store, runner), store: store, runner: runner}
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (ts *testServer) post(t *testing.T, eventType string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", eventType)
	req.Header.Set("X-Hub-Signature-256", signature)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) waitDispatch(t *testing.T) trigger.Event {
	t.Helper()
	select {
	case ev := <-ts.runner.done:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("orchestration was never dispatched")
		return trigger.Event{}
	}
}

func TestWebhookValidSignatureCreatesRun(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"ref":"refs/heads/main","after":"abcdef1234567890"}`)

	rec := ts.post(t, "push", body, sign(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)
	assert.Contains(t, resp.RunID, "abcdef12-")

	ev := ts.waitDispatch(t)
	assert.Equal(t, trigger.EventPush, ev.Kind)
	assert.Equal(t, "main", ev.Branch)
	assert.Len(t, ts.store.ListRuns(0, time.Time{}), 1)
}

func TestWebhookInvalidSignatureRejected(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"ref":"refs/heads/main","after":"abcdef1234567890"}`)

	rec := ts.post(t, "push", body, "sha256=deadbeef")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, ts.store.ListRuns(0, time.Time{}), "invalid signature must create zero runs")
}

func TestWebhookMissingSignatureRejected(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"ref":"refs/heads/main","after":"abc"}`)

	rec := ts.post(t, "push", body, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"zen":"Keep it simple."}`)

	rec := ts.post(t, "ping", body, sign(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, ts.store.ListRuns(0, time.Time{}))
}

func TestWebhookBranchDeletionIgnored(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"ref":"refs/heads/old","after":"0000000000000000000000000000000000000000","deleted":true}`)

	rec := ts.post(t, "push", body, sign(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWebhookPullRequestEvent(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"action":"synchronize","pull_request":{"number":67,"head":{"sha":"abcdef1234567890","ref":"feature"}}}`)

	rec := ts.post(t, "pull_request", body, sign(body))
	require.Equal(t, http.StatusAccepted, rec.Code)

	ev := ts.waitDispatch(t)
	assert.Equal(t, trigger.EventPullRequest, ev.Kind)
	assert.Equal(t, trigger.ActionSynchronize, ev.Action)
	assert.Equal(t, 67, ev.PRNumber)
}

func TestLiveness(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp LivenessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHistoryEndpoints(t *testing.T) {
	ts := newTestServer(t)

	tc := &trigger.Context{
		Event:       trigger.Event{Kind: trigger.EventPullRequest, Action: trigger.ActionOpened, Commit: "abc123", PRNumber: 7},
		TriggerType: trigger.TriggerPROpened,
		RunType:     trigger.RunFullAutomation,
	}
	run, err := ts.store.StartRun(tc, "")
	require.NoError(t, err)
	require.NoError(t, ts.store.SkipRun(run.ID, "Trivial change", trigger.RunSkippedTrivialChange))

	for _, path := range []string{"/api/history", "/api/history?limit=10", "/api/history/pr/7", "/api/history/skipped"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, path)

		var runs []session.Run
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs), path)
		assert.Len(t, runs, 1, path)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history?limit=bogus", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Zero(t, resp.Runs)
}

func TestTriggerConfigEndpoint(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/trigger-config", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TriggerConfigResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "both", resp.Mode)
	assert.True(t, resp.TrivialFilterEnabled)
	assert.Equal(t, 10, resp.TrivialMaxLines)
}

func TestManualRun(t *testing.T) {
	ts := newTestServer(t)
	body := []byte(`{"commit_sha":"abcdef1234567890"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/manual-run", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	ev := ts.waitDispatch(t)
	assert.Equal(t, "abcdef1234567890", ev.Commit)
}

func TestManualRunRequiresTarget(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/manual-run", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryEndpoint(t *testing.T) {
	ts := newTestServer(t)

	tc := &trigger.Context{
		Event:       trigger.Event{Kind: trigger.EventPush, Commit: "abc123", Branch: "main"},
		TriggerType: trigger.TriggerPushWithoutPR,
		RunType:     trigger.RunFullAutomation,
	}
	run, err := ts.store.StartRun(tc, "")
	require.NoError(t, err)
	require.NoError(t, ts.store.SkipRun(run.ID, "done", trigger.RunSkippedTrivialChange))

	req := httptest.NewRequest(http.MethodPost, "/api/runs/"+run.ID+"/retry", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	ev := ts.waitDispatch(t)
	assert.Equal(t, "abc123", ev.Commit)
}

func TestRetryUnknownRun(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/runs/nope/retry", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// stuckRunner blocks until its context ends, like an orchestration riding
// out a long task timeout.
type stuckRunner struct {
	started chan struct{}
	ctxErr  chan error
}

func (r *stuckRunner) HandleEvent(ctx context.Context, ev trigger.Event, runID string) (*session.Run, error) {
	close(r.started)
	<-ctx.Done()
	r.ctxErr <- ctx.Err()
	return nil, ctx.Err()
}

func (r *stuckRunner) Retry(ctx context.Context, prior *session.Run, runID string) (*session.Run, error) {
	return r.HandleEvent(ctx, trigger.Event{}, runID)
}

func TestShutdownCancelsInFlightOrchestrationsAfterGrace(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0

	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	runner := &stuckRunner{started: make(chan struct{}), ctxErr: make(chan error, 1)}
	srv := New(&cfg, store, runner)

	prev := drainGrace
	drainGrace = 50 * time.Millisecond
	t.Cleanup(func() { drainGrace = prev })

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	srv.dispatch(trigger.Event{Kind: trigger.EventPush, Commit: "abcdef1234567890", Branch: "main"}, "run-1")
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("orchestration never started")
	}

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err, "shutdown must not hang on a stuck orchestration")
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete after the drain grace")
	}
	assert.ErrorIs(t, <-runner.ctxErr, context.Canceled)
}

func TestRetryActiveRunConflicts(t *testing.T) {
	ts := newTestServer(t)
	tc := &trigger.Context{
		Event:       trigger.Event{Kind: trigger.EventPush, Commit: "abc123"},
		TriggerType: trigger.TriggerPushWithoutPR,
		RunType:     trigger.RunFullAutomation,
	}
	run, err := ts.store.StartRun(tc, "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/runs/"+run.ID+"/retry", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)
}
