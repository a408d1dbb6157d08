// Package config loads layered scribe configuration: built-in defaults,
// deep-merged with user and repo JSONC files, overridden by environment
// variables. Environment wins so containerized deployments need no files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/tidwall/jsonc"
)

// Load reads and merges configuration from user-level and repo-level JSONC
// files, then applies environment overrides.
// Resolution order: defaults → ~/.config/scribe/scribe.jsonc → .scribe/scribe.jsonc → env.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	userDir, err := os.UserConfigDir()
	if err == nil {
		userPath := filepath.Join(userDir, "scribe", "scribe.jsonc")
		if userMap, err := loadJSONC(userPath); err == nil {
			if err := mergeIntoConfig(&cfg, userMap); err != nil {
				return nil, fmt.Errorf("merging user config: %w", err)
			}
		}
	}

	repoRoot := findRepoRoot()
	if repoRoot != "" {
		repoPath := filepath.Join(repoRoot, ".scribe", "scribe.jsonc")
		if repoMap, err := loadJSONC(repoPath); err == nil {
			if err := mergeIntoConfig(&cfg, repoMap); err != nil {
				return nil, fmt.Errorf("merging repo config: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// Validate checks the fields the server cannot run without. A non-nil error
// corresponds to exit code 1.
func (c *Config) Validate() error {
	if c.Server.WebhookSecret == "" {
		return fmt.Errorf("webhook secret is required (set WEBHOOK_SECRET)")
	}
	if c.GitHub.Token == "" {
		return fmt.Errorf("GitHub token is required (set GITHUB_TOKEN)")
	}
	if c.GitHub.Repo == "" || !strings.Contains(c.GitHub.Repo, "/") {
		return fmt.Errorf("repository must be owner/name (set GITHUB_REPO)")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic", "gemini":
	case "":
		return fmt.Errorf("LLM provider is required (set LLM_PROVIDER to openai, anthropic, or gemini)")
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLM.Provider)
	}
	switch c.Trigger.Mode {
	case "pr", "push", "both":
	default:
		return fmt.Errorf("trigger mode must be pr, push, or both, got %q", c.Trigger.Mode)
	}
	if c.Trigger.TrivialMaxLines < 0 {
		return fmt.Errorf("trivial_max_lines must be >= 0")
	}
	if c.LLM.MaxRPM <= 0 {
		return fmt.Errorf("llm max_rpm must be > 0")
	}
	return nil
}

// Owner and Name split the configured owner/name pair.
func (g GitHubConfig) Owner() string {
	owner, _, _ := strings.Cut(g.Repo, "/")
	return owner
}

func (g GitHubConfig) Name() string {
	_, name, _ := strings.Cut(g.Repo, "/")
	return name
}

// loadJSONC reads a JSONC file and returns it as a map.
func loadJSONC(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jsonData := jsonc.ToJSON(data)
	var m map[string]any
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return m, nil
}

// mergeIntoConfig marshals the config to a map, deep-merges the source map
// over it, then unmarshals back to the Config struct.
func mergeIntoConfig(cfg *Config, src map[string]any) error {
	cfgBytes, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var dst map[string]any
	if err := json.Unmarshal(cfgBytes, &dst); err != nil {
		return err
	}

	// Deep merge: src overrides dst.
	if err := mergo.Merge(&dst, src, mergo.WithOverride); err != nil {
		return err
	}

	merged, err := json.Marshal(dst)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, cfg)
}

// findRepoRoot finds the git repository root via git rev-parse.
func findRepoRoot() string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// RepoRoot returns the detected git repository root, or empty string if not in a repo.
func RepoRoot() string {
	return findRepoRoot()
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment is the last layer and wins over files.
func applyEnvOverrides(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst **bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = boolPtr(b)
			}
		}
	}

	setStr("HOST", &cfg.Server.Host)
	setInt("PORT", &cfg.Server.Port)
	setStr("WEBHOOK_SECRET", &cfg.Server.WebhookSecret)
	setStr("SCRIBE_DATA_DIR", &cfg.Server.DataDir)

	setStr("GITHUB_TOKEN", &cfg.GitHub.Token)
	setStr("GITHUB_REPO", &cfg.GitHub.Repo)

	setStr("LLM_PROVIDER", &cfg.LLM.Provider)
	setStr("LLM_MODEL", &cfg.LLM.Model)
	setInt("LLM_MAX_RPM", &cfg.LLM.MaxRPM)
	if v := os.Getenv("LLM_MIN_DELAY_SECONDS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.MinDelaySeconds = f
		}
	}
	setStr("OPENAI_API_KEY", &cfg.LLM.OpenAIKey)
	setStr("ANTHROPIC_API_KEY", &cfg.LLM.AnthropicKey)
	setStr("GEMINI_API_KEY", &cfg.LLM.GeminiKey)

	setStr("TRIGGER_MODE", &cfg.Trigger.Mode)
	setBool("TRIVIAL_CHANGE_FILTER_ENABLED", &cfg.Trigger.TrivialFilterEnabled)
	setInt("TRIVIAL_MAX_LINES", &cfg.Trigger.TrivialMaxLines)
	if v := os.Getenv("DOCS_ONLY_LIGHTWEIGHT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Trigger.DocsOnlyLightweight = b
		}
	}

	setBool("POST_REVIEW_ON_PR", &cfg.Review.PostReviewOnPR)
	if v := os.Getenv("POST_AS_ISSUE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Review.PostAsIssue = b
		}
	}

	setBool("GROUP_AUTOMATION_UPDATES", &cfg.Automation.GroupUpdates)
	setStr("TASK_TIMEOUT", &cfg.Automation.TaskTimeout)
	setStr("DEDUP_WINDOW", &cfg.Automation.DedupWindow)
	setInt("DIFF_MAX_BYTES", &cfg.Automation.DiffMaxBytes)
}

// DataDir resolves the directory holding the session store and PID file.
func (c *Config) DataDir() string {
	if c.Server.DataDir != "" {
		return expandHome(c.Server.DataDir)
	}
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join(os.TempDir(), "scribe")
		}
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "scribe")
}

// expandHome replaces a leading "~/" in a path with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
