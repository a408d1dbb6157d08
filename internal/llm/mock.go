package llm

import (
	"context"
	"strings"
	"sync"
)

// MockProvider is a test double for Provider.
type MockProvider struct {
	mu            sync.Mutex
	DefaultResult string
	Results       map[string]string // prompt substring -> response
	ChatErr       error
	UsagePerCall  Usage
	History       []Request
}

// NewMockProvider creates a MockProvider with sensible defaults.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		DefaultResult: "Mock generation",
		Results:       map[string]string{},
		UsagePerCall:  Usage{PromptTokens: 100, CompletionTokens: 50, CostUSD: 0.001},
	}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Chat(_ context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ChatErr != nil {
		return nil, m.ChatErr
	}
	m.History = append(m.History, req)
	text := m.DefaultResult
	for needle, response := range m.Results {
		if needle != "" && strings.Contains(req.Prompt, needle) {
			text = response
			break
		}
	}
	return &Result{Text: text, Usage: m.UsagePerCall}, nil
}

// Calls returns a copy of the recorded requests.
func (m *MockProvider) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.History))
	copy(out, m.History)
	return out
}

var _ Provider = (*MockProvider)(nil)
