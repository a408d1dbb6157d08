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

const defaultGeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"

type gemini struct {
	model    string
	apiKey   string
	endpoint string
}

func newGemini(opts Options) *gemini {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = defaultGeminiEndpoint
	}
	return &gemini{model: opts.Model, apiKey: opts.APIKey, endpoint: strings.TrimRight(endpoint, "/")}
}

func (g *gemini) Name() string { return "gemini" }

func (g *gemini) Chat(ctx context.Context, req Request) (*Result, error) {
	payload := map[string]any{
		"system_instruction": map[string]any{
			"parts": []map[string]string{{"text": req.System}},
		},
		"contents": []map[string]any{
			{"role": "user", "parts": []map[string]string{{"text": req.Prompt}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "gemini", Err: err}
	}

	// The key rides in a header, never in the URL, so request-line logging
	// stays safe.
	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "gemini", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, chatTransportError("gemini", ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "gemini", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, chatStatusError("gemini", resp.StatusCode)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Kind: KindLLMError, Provider: "gemini", Status: resp.StatusCode, Err: err}
	}
	if len(parsed.Candidates) == 0 {
		return nil, &Error{Kind: KindLLMError, Provider: "gemini", Status: resp.StatusCode, Err: errors.New("no candidates")}
	}

	var text strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	usage := Usage{
		PromptTokens:     parsed.UsageMetadata.PromptTokenCount,
		CompletionTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}
	usage.CostUSD = cost(g.model, usage.PromptTokens, usage.CompletionTokens)
	slog.Debug("generation complete", "provider", "gemini", "model", g.model,
		"prompt_tokens", usage.PromptTokens, "completion_tokens", usage.CompletionTokens)

	return &Result{Text: text.String(), Usage: usage}, nil
}
