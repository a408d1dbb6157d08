package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Trigger.Mode != "both" {
		t.Errorf("expected trigger mode both, got %s", cfg.Trigger.Mode)
	}
	if !cfg.Trigger.IsTrivialFilterEnabled() {
		t.Error("expected trivial filter enabled by default")
	}
	if cfg.Trigger.TrivialMaxLines != 10 {
		t.Errorf("expected trivial_max_lines 10, got %d", cfg.Trigger.TrivialMaxLines)
	}
	if cfg.LLM.MaxRPM != 10 {
		t.Errorf("expected max_rpm 10, got %d", cfg.LLM.MaxRPM)
	}
	if cfg.LLM.MinDelay() != 2*time.Second {
		t.Errorf("expected min delay 2s, got %v", cfg.LLM.MinDelay())
	}
	if !cfg.Review.IsPostReviewOnPR() {
		t.Error("expected post_review_on_pr enabled by default")
	}
	if !cfg.Automation.IsGroupUpdates() {
		t.Error("expected group_automation_updates enabled by default")
	}
	if cfg.Automation.ParseTaskTimeout() != 10*time.Minute {
		t.Errorf("expected task timeout 10m, got %v", cfg.Automation.ParseTaskTimeout())
	}
}

func TestLoadJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scribe.jsonc")

	content := []byte(`{
  // comments are allowed
  "trigger": {
    "mode": "pr"
  },
  "server": {
    "port": 9999
  }
}`)

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	m, err := loadJSONC(path)
	if err != nil {
		t.Fatalf("loadJSONC failed: %v", err)
	}

	trig, ok := m["trigger"].(map[string]any)
	if !ok {
		t.Fatal("expected trigger to be a map")
	}
	if trig["mode"] != "pr" {
		t.Errorf("expected mode=pr, got %v", trig["mode"])
	}
}

func TestMergeIntoConfig(t *testing.T) {
	cfg := DefaultConfig()
	src := map[string]any{
		"server":  map[string]any{"port": float64(9001)},
		"trigger": map[string]any{"trivial_max_lines": float64(25)},
	}

	if err := mergeIntoConfig(&cfg, src); err != nil {
		t.Fatalf("mergeIntoConfig failed: %v", err)
	}

	if cfg.Server.Port != 9001 {
		t.Errorf("expected merged port 9001, got %d", cfg.Server.Port)
	}
	if cfg.Trigger.TrivialMaxLines != 25 {
		t.Errorf("expected merged trivial_max_lines 25, got %d", cfg.Trigger.TrivialMaxLines)
	}
	// Untouched defaults survive the merge.
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected default host preserved, got %s", cfg.Server.Host)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRIGGER_MODE", "push")
	t.Setenv("TRIVIAL_MAX_LINES", "3")
	t.Setenv("TRIVIAL_CHANGE_FILTER_ENABLED", "false")
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_MAX_RPM", "2")
	t.Setenv("LLM_MIN_DELAY_SECONDS", "0.5")
	t.Setenv("WEBHOOK_SECRET", "hunter2")
	t.Setenv("POST_REVIEW_ON_PR", "false")

	cfg := DefaultConfig()
	applyEnvOverrides(&cfg)

	if cfg.Trigger.Mode != "push" {
		t.Errorf("expected mode push, got %s", cfg.Trigger.Mode)
	}
	if cfg.Trigger.TrivialMaxLines != 3 {
		t.Errorf("expected trivial_max_lines 3, got %d", cfg.Trigger.TrivialMaxLines)
	}
	if cfg.Trigger.IsTrivialFilterEnabled() {
		t.Error("expected trivial filter disabled")
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("expected provider anthropic, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.MaxRPM != 2 {
		t.Errorf("expected max_rpm 2, got %d", cfg.LLM.MaxRPM)
	}
	if cfg.LLM.MinDelay() != 500*time.Millisecond {
		t.Errorf("expected min delay 500ms, got %v", cfg.LLM.MinDelay())
	}
	if cfg.Server.WebhookSecret != "hunter2" {
		t.Error("expected webhook secret from env")
	}
	if cfg.Review.IsPostReviewOnPR() {
		t.Error("expected post_review_on_pr disabled")
	}
}

func TestValidate(t *testing.T) {
	valid := DefaultConfig()
	valid.Server.WebhookSecret = "s"
	valid.GitHub.Token = "t"
	valid.GitHub.Repo = "octo/repo"
	valid.LLM.Provider = "openai"

	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing secret", func(c *Config) { c.Server.WebhookSecret = "" }},
		{"missing token", func(c *Config) { c.GitHub.Token = "" }},
		{"bad repo", func(c *Config) { c.GitHub.Repo = "norepo" }},
		{"missing provider", func(c *Config) { c.LLM.Provider = "" }},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "copilot" }},
		{"bad trigger mode", func(c *Config) { c.Trigger.Mode = "sometimes" }},
		{"zero rpm", func(c *Config) { c.LLM.MaxRPM = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestOwnerName(t *testing.T) {
	g := GitHubConfig{Repo: "octo/widgets"}
	if g.Owner() != "octo" || g.Name() != "widgets" {
		t.Errorf("expected octo/widgets, got %s/%s", g.Owner(), g.Name())
	}
}
