// Package logging wires log/slog to a charmbracelet/log backend and holds
// the redaction helpers used wherever request lines or config values are
// logged. Webhook secrets, host tokens, and LLM keys must never reach a log
// line; diff bodies are logged only as sizes and file counts.
package logging

import (
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"
)

// Setup initializes the global slog logger. Terminal output gets the colored
// text format; everything else (daemon log files, systemd) gets JSON.
func Setup(verbose bool) {
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})

	if verbose {
		handler.SetLevel(charmlog.DebugLevel)
	} else {
		handler.SetLevel(charmlog.InfoLevel)
	}

	if !isTerminal() {
		handler.SetFormatter(charmlog.JSONFormatter)
	}

	slog.SetDefault(slog.New(handler))
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// RedactURL strips query strings from a request path before logging.
// Pre-signed URLs and token-bearing queries must not appear in logs.
func RedactURL(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i] + "?…"
	}
	return path
}

// Mask replaces a secret with a fixed marker, keeping empty values empty so
// callers can still distinguish "unset" from "set".
func Mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "***"
}
