package config

import "time"

// Config is the top-level scribe configuration.
type Config struct {
	Server     ServerConfig     `json:"server"`
	GitHub     GitHubConfig     `json:"github"`
	LLM        LLMConfig        `json:"llm"`
	Trigger    TriggerConfig    `json:"trigger"`
	Review     ReviewConfig     `json:"review"`
	Automation AutomationConfig `json:"automation"`
}

// ServerConfig holds the HTTP bind address, the webhook secret, and daemon settings.
type ServerConfig struct {
	Host          string `json:"host"`
	Port          int    `json:"port"`
	WebhookSecret string `json:"webhook_secret"`
	LogDir        string `json:"log_dir"`
	DataDir       string `json:"data_dir"`
}

// GitHubConfig identifies the watched repository and its token.
type GitHubConfig struct {
	Token string `json:"token"`
	// Repo is "owner/name". One repository per process instance.
	Repo string `json:"repo"`
}

// LLMConfig selects the provider variant and tunes the gateway.
type LLMConfig struct {
	Provider        string  `json:"provider"` // openai, anthropic, gemini
	Model           string  `json:"model"`
	MaxRPM          int     `json:"max_rpm"`
	MinDelaySeconds float64 `json:"min_delay_seconds"`
	OpenAIKey       string  `json:"openai_api_key"`
	AnthropicKey    string  `json:"anthropic_api_key"`
	GeminiKey       string  `json:"gemini_api_key"`
	// Endpoint overrides the provider's default base URL (testing, proxies).
	Endpoint string `json:"endpoint"`
}

// MinDelay returns the minimum gap between LLM admissions.
func (l LLMConfig) MinDelay() time.Duration {
	return time.Duration(l.MinDelaySeconds * float64(time.Second))
}

// APIKey returns the key for the selected provider.
func (l LLMConfig) APIKey() string {
	switch l.Provider {
	case "openai":
		return l.OpenAIKey
	case "anthropic":
		return l.AnthropicKey
	case "gemini":
		return l.GeminiKey
	}
	return ""
}

// TriggerConfig controls event classification.
type TriggerConfig struct {
	Mode                 string `json:"mode"` // pr, push, both
	TrivialFilterEnabled *bool  `json:"trivial_filter_enabled"`
	TrivialMaxLines      int    `json:"trivial_max_lines"`
	// DocsOnlyLightweight selects the lightweight_only run type for doc-only
	// diffs instead of skipped_docs_only. Both skip code review.
	DocsOnlyLightweight bool `json:"docs_only_lightweight"`
}

// IsTrivialFilterEnabled defaults to true when not explicitly set.
func (t TriggerConfig) IsTrivialFilterEnabled() bool {
	if t.TrivialFilterEnabled == nil {
		return true
	}
	return *t.TrivialFilterEnabled
}

// ReviewConfig controls where the code review lands.
type ReviewConfig struct {
	PostReviewOnPR *bool `json:"post_review_on_pr"`
	PostAsIssue    bool  `json:"post_as_issue"`
	// ContextLines is the slice of surrounding file context included in the
	// review prompt, per file.
	ContextLines int `json:"context_lines"`
}

// IsPostReviewOnPR defaults to true when not explicitly set.
func (r ReviewConfig) IsPostReviewOnPR() bool {
	if r.PostReviewOnPR == nil {
		return true
	}
	return *r.PostReviewOnPR
}

// AutomationConfig tunes the orchestrator.
type AutomationConfig struct {
	GroupUpdates *bool  `json:"group_automation_updates"`
	TaskTimeout  string `json:"task_timeout"`
	DedupWindow  string `json:"dedup_window"`
	DiffMaxBytes int    `json:"diff_max_bytes"`
}

// IsGroupUpdates defaults to true when not explicitly set.
func (a AutomationConfig) IsGroupUpdates() bool {
	if a.GroupUpdates == nil {
		return true
	}
	return *a.GroupUpdates
}

// ParseTaskTimeout returns the per-task deadline as a time.Duration.
func (a AutomationConfig) ParseTaskTimeout() time.Duration {
	d, err := time.ParseDuration(a.TaskTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// ParseDedupWindow returns the webhook re-delivery deduplication window.
func (a AutomationConfig) ParseDedupWindow() time.Duration {
	d, err := time.ParseDuration(a.DedupWindow)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// boolPtr returns a pointer to the given bool value.
func boolPtr(b bool) *bool {
	return &b
}

// DefaultConfig returns a Config with sensible defaults. The webhook secret,
// LLM provider, and GitHub token have no defaults and must come from a config
// file or the environment.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Host:   "127.0.0.1",
			Port:   8080,
			LogDir: "~/.local/share/scribe/logs",
		},
		LLM: LLMConfig{
			MaxRPM:          10,
			MinDelaySeconds: 2.0,
		},
		Trigger: TriggerConfig{
			Mode:                 "both",
			TrivialFilterEnabled: boolPtr(true),
			TrivialMaxLines:      10,
		},
		Review: ReviewConfig{
			PostReviewOnPR: boolPtr(true),
			ContextLines:   40,
		},
		Automation: AutomationConfig{
			GroupUpdates: boolPtr(true),
			TaskTimeout:  "10m",
			DedupWindow:  "10m",
			DiffMaxBytes: 256 * 1024,
		},
	}
}
