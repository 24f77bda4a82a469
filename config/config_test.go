package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Conversations.Backend != "sqlite" || cfg.Conversations.MaxTurns != 200 {
		t.Errorf("Conversations = %+v", cfg.Conversations)
	}
	if strings.HasPrefix(cfg.Conversations.DSN, "~") {
		t.Errorf("DSN not expanded: %q", cfg.Conversations.DSN)
	}
}

func TestLoad_MergesOntoDefaults(t *testing.T) {
	path := writeConfig(t, `
default_provider: Anthropic
providers:
  Anthropic:
    api_key: sk-test
    timeout: 30
  ollama:
    base_url: http://gpu-box:11434
    model: llama3.2
retry:
  max_attempts: 5
  base_delay: 250ms
conversations:
  backend: sqlite
  dsn: /tmp/conv.db
  idle_ttl: 24h
  sweep_schedule: "@hourly"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultProvider != "anthropic" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if cfg.Retry.MaxDelay != 60*time.Second {
		t.Errorf("MaxDelay = %v, want default kept", cfg.Retry.MaxDelay)
	}
	if cfg.Conversations.IdleTTL != 24*time.Hour {
		t.Errorf("IdleTTL = %v", cfg.Conversations.IdleTTL)
	}
	if cfg.SystemPrompt == "" {
		t.Error("default system prompt lost in merge")
	}
	if got := cfg.Timeout("anthropic"); got != 30*time.Second {
		t.Errorf("Timeout(anthropic) = %v", got)
	}
	if got := cfg.Timeout("ollama"); got != 0 {
		t.Errorf("Timeout(ollama) = %v, want 0", got)
	}

	settings := cfg.ProviderSettings()
	if settings["anthropic"].APIKey != "sk-test" {
		t.Errorf("anthropic settings = %+v", settings["anthropic"])
	}
	if settings["ollama"].BaseURL != "http://gpu-box:11434" || settings["ollama"].Model != "llama3.2" {
		t.Errorf("ollama settings = %+v", settings["ollama"])
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"unknown backend", "conversations:\n  backend: redis\n", "must be one of"},
		{"unknown provider", "default_provider: acme\n", "not a known provider"},
		{"bad base url", "providers:\n  openai:\n    base_url: not a url\n", "valid URL"},
		{"bad schedule", "conversations:\n  idle_ttl: 1h\n  sweep_schedule: every tuesday\n", "sweep_schedule"},
		{"schedule without ttl", "conversations:\n  sweep_schedule: 15m\n", "idle_ttl is required"},
		{"image quality", "images:\n  quality: 150\n", "less than or equal"},
		{"max turns below one pair", "conversations:\n  max_turns: 1\n", "max_turns must be at least 2"},
		{"malformed yaml", "retry: [", "failed to parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error = %v, want it to mention %q", err, tt.wantMsg)
			}
		})
	}
}

func TestValidate_CollectsAllFields(t *testing.T) {
	cfg := Defaults()
	cfg.DefaultProvider = ""
	cfg.Images.Quality = -1
	err := Validate(&cfg)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if len(verr.Fields) != 2 {
		t.Errorf("Fields = %v, want 2 entries", verr.Fields)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Defaults()
	cfg.Providers["openai"] = ProviderConfig{APIKey: "sk-x", Model: "gpt-4o"}
	if err := Save(&cfg, path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Providers["openai"].Model != "gpt-4o" {
		t.Errorf("Providers = %+v", loaded.Providers)
	}
}

func TestRedacted(t *testing.T) {
	cfg := Defaults()
	cfg.Providers["openai"] = ProviderConfig{APIKey: "sk-secret"}
	red := cfg.Redacted()
	if red.Providers["openai"].APIKey != "****" {
		t.Errorf("APIKey = %q", red.Providers["openai"].APIKey)
	}
	if cfg.Providers["openai"].APIKey != "sk-secret" {
		t.Error("Redacted() must not modify the original")
	}
}

func TestGetConfigPath_Env(t *testing.T) {
	t.Setenv("GENLLM_CONFIG_PATH", "/etc/genllm.yaml")
	if got := GetConfigPath(); got != "/etc/genllm.yaml" {
		t.Errorf("GetConfigPath() = %q", got)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GENLLM_TEST_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GENLLM_TEST_KEY", "")
	os.Unsetenv("GENLLM_TEST_KEY")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv("GENLLM_TEST_KEY"); got != "from-dotenv" {
		t.Errorf("GENLLM_TEST_KEY = %q", got)
	}
}
