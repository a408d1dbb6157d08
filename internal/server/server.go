// Package server is the ingress and dashboard surface: the authenticated
// webhook endpoint, the read-only history API, and the daemon plumbing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alanmeadows/scribe/internal/config"
	"github.com/alanmeadows/scribe/internal/session"
	"github.com/alanmeadows/scribe/internal/trigger"
)

// ErrBind wraps listener failures so the CLI can map them to their exit code.
var ErrBind = errors.New("failed to bind")

// Runner dispatches events through the orchestration pipeline.
type Runner interface {
	HandleEvent(ctx context.Context, ev trigger.Event, runID string) (*session.Run, error)
	Retry(ctx context.Context, prior *session.Run, runID string) (*session.Run, error)
}

// drainGrace is how long detached orchestrations get to finish after the
// listener stops before their contexts are cancelled. Variable for tests.
var drainGrace = 10 * time.Second

// Server carries the ingress dependencies.
type Server struct {
	cfg    *config.Config
	store  *session.Store
	runner Runner

	startTime time.Time

	// wg tracks detached orchestrations so Shutdown can drain them;
	// dispatchCtx ties their cancellation to the server lifetime.
	wg             sync.WaitGroup
	dispatchCtx    context.Context
	cancelDispatch context.CancelFunc
}

// New builds a Server.
func New(cfg *config.Config, store *session.Store, runner Runner) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:            cfg,
		store:          store,
		runner:         runner,
		startTime:      time.Now(),
		dispatchCtx:    ctx,
		cancelDispatch: cancel,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /{$}", s.handleLiveness)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/pr/{pr_number}", s.handleHistoryByPR)
	mux.HandleFunc("GET /api/history/skipped", s.handleHistorySkipped)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/trigger-config", s.handleTriggerConfig)
	mux.HandleFunc("POST /api/manual-run", s.handleManualRun)
	mux.HandleFunc("POST /api/runs/{run_id}/retry", s.handleRetry)
	return mux
}

// Run binds the configured address and serves until the context ends.
// Listener failures are wrapped with ErrBind.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, addr, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	slog.Info("starting HTTP server", "addr", addr)
	if err := srv.Serve(ln); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	// Detached orchestrations get a drain window, then their contexts are
	// cancelled so workers fail promptly instead of riding out their full
	// task timeouts.
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGrace):
		slog.Warn("cancelling in-flight orchestrations", "grace", drainGrace)
		s.cancelDispatch()
		<-done
	}
	return nil
}

// dispatch runs an event in the background; the HTTP response has already
// promised runID to the caller. The goroutine's context ends with the
// server, not the request.
func (s *Server) dispatch(ev trigger.Event, runID string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.runner.HandleEvent(s.dispatchCtx, ev, runID); err != nil {
			slog.Error("orchestration failed", "run", runID, "commit", ev.Commit, "error", err)
		}
	}()
}
