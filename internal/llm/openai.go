package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1"

type openAI struct {
	model    string
	apiKey   string
	endpoint string
}

func newOpenAI(opts Options) *openAI {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	return &openAI{model: opts.Model, apiKey: opts.APIKey, endpoint: strings.TrimRight(endpoint, "/")}
}

func (o *openAI) Name() string { return "openai" }

func (o *openAI) Chat(ctx context.Context, req Request) (*Result, error) {
	payload := map[string]any{
		"model": o.model,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.Prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "openai", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "openai", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, chatTransportError("openai", ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "openai", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, chatStatusError("openai", resp.StatusCode)
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "openai", Status: resp.StatusCode, Err: err}
	}
	if len(parsed.Choices) == 0 {
		return nil, &Error{Kind: KindLLMError, Provider: "openai", Status: resp.StatusCode, Err: errors.New("empty choices")}
	}

	usage := Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}
	usage.CostUSD = cost(o.model, usage.PromptTokens, usage.CompletionTokens)
	slog.Debug("generation complete", "provider", "openai", "model", o.model,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)

	return &Result{Text: parsed.Choices[0].Message.Content, Usage: usage}, nil
}

// chatStatusError maps a non-200 provider status to a typed error.
// Bodies are dropped: they may echo the prompt, which can carry diff content.
func chatStatusError(provider string, status int) *Error {
	kind := KindLLMError
	if status == http.StatusTooManyRequests {
		kind = KindRateLimited
	}
	return &Error{Kind: kind, Provider: provider, Status: status, Err: fmt.Errorf("unexpected status %d", status)}
}

func chatTransportError(provider string, ctx context.Context, err error) *Error {
	kind := KindLLMError
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: provider, Err: err}
}
