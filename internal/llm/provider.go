// Package llm is the rate-limited gateway in front of the configured text
// model provider. All task workers go through Gateway.Generate, which
// serializes admission through a shared token bucket so parallel tasks never
// exceed the configured request rate.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind tags a provider failure for the task records.
type ErrorKind string

const (
	KindLLMError    ErrorKind = "llm_error"
	KindRateLimited ErrorKind = "rate_limited"
	KindTimeout     ErrorKind = "timeout"
)

// Error is the typed error returned by providers and the gateway.
type Error struct {
	Kind     ErrorKind
	Status   int
	Provider string
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the kind from an error chain, defaulting to llm_error.
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindLLMError
}

// Request is a single generation call.
type Request struct {
	System string
	Prompt string
}

// Usage is the token accounting for one or more generation calls.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// Add accumulates another usage record into u.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CostUSD += other.CostUSD
}

// Result is the provider response.
type Result struct {
	Text  string
	Usage Usage
}

// Provider is one chat-completion backend.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req Request) (*Result, error)
}

// Options configures provider construction.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	Endpoint string // override base URL, mainly for tests
}

// NewProvider builds the configured backend.
func NewProvider(opts Options) (Provider, error) {
	switch opts.Provider {
	case "openai":
		return newOpenAI(opts), nil
	case "anthropic":
		return newAnthropic(opts), nil
	case "gemini":
		return newGemini(opts), nil
	default:
		return nil, fmt.Errorf("unknown provider %q: choose from openai, anthropic, gemini", opts.Provider)
	}
}

// httpClient is shared by all providers. Generation calls are long; the
// per-request deadline comes from the caller's context.
var httpClient = &http.Client{Timeout: 0}
