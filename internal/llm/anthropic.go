package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const defaultAnthropicEndpoint = "https://api.anthropic.com"

type anthropic struct {
	model    string
	apiKey   string
	endpoint string
}

func newAnthropic(opts Options) *anthropic {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultAnthropicEndpoint
	}
	return &anthropic{model: opts.Model, apiKey: opts.APIKey, endpoint: strings.TrimRight(endpoint, "/")}
}

func (a *anthropic) Name() string { return "anthropic" }

func (a *anthropic) Chat(ctx context.Context, req Request) (*Result, error) {
	payload := map[string]any{
		"model":      a.model,
		"max_tokens": 8192,
		"system":     req.System,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "anthropic", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "anthropic", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, chatTransportError("anthropic", ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "anthropic", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, chatStatusError("anthropic", resp.StatusCode)
	}

	var parsed struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "anthropic", Status: resp.StatusCode, Err: err}
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &Error{Kind: KindLLMError, Provider: "anthropic", Status: resp.StatusCode, Err: errors.New("empty content")}
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.InputTokens,
		CompletionTokens: parsed.Usage.OutputTokens,
	}
	usage.CostUSD = cost(a.model, usage.PromptTokens, usage.CompletionTokens)
	slog.Debug("generation complete", "provider", "anthropic", "model", a.model,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)

	return &Result{Text: text.String(), Usage: usage}, nil
}
