package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIChatParsesResponse(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/chat/completions", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])

		fmt.Fprint(w, `{"choices":[{"message":{"content":"review text"}}],"usage":{"prompt_tokens":42,"completion_tokens":7}}`)
	}))
	defer srv.Close()

	p := newOpenAI(Options{Model: "gpt-4o", APIKey: "sk-test", Endpoint: srv.URL})
	res, err := p.Chat(context.Background(), Request{System: "sys", Prompt: "user"})
	require.NoError(t, err)
	assert.Equal(t, "review text", res.Text)
	assert.Equal(t, 42, res.Usage.PromptTokens)
	assert.Equal(t, 7, res.Usage.CompletionTokens)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAIChatRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down"}}`)
	}))
	defer srv.Close()

	p := newOpenAI(Options{Model: "gpt-4o", APIKey: "k", Endpoint: srv.URL})
	_, err := p.Chat(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func TestAnthropicChatParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("x-api-key"))
		assert.NotEmpty(t, r.Header.Get("anthropic-version"))

		fmt.Fprint(w, `{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}],"usage":{"input_tokens":10,"output_tokens":5}}`)
	}))
	defer srv.Close()

	p := newAnthropic(Options{Model: "claude-sonnet-4-6", APIKey: "key-123", Endpoint: srv.URL})
	res, err := p.Chat(context.Background(), Request{System: "s", Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "part one part two", res.Text)
	assert.Equal(t, 10, res.Usage.PromptTokens)
}

func TestGeminiChatParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"), "key must never ride in the URL")

		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"hello"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":1}}`)
	}))
	defer srv.Close()

	p := newGemini(Options{Model: "gemini-2.5-flash", APIKey: "g-key", Endpoint: srv.URL})
	res, err := p.Chat(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Text)
	assert.Equal(t, 3, res.Usage.PromptTokens)
}

func TestChatStatusErrorKinds(t *testing.T) {
	assert.Equal(t, KindRateLimited, chatStatusError("openai", 429).Kind)
	assert.Equal(t, KindLLMError, chatStatusError("openai", 500).Kind)
	assert.NotContains(t, chatStatusError("openai", 500).Error(), "prompt")
}
