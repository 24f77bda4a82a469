package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig represents configuration for one LLM provider.
// Empty fields fall back to the provider's environment variables and then
// to the built-in defaults.
type ProviderConfig struct {
	APIKey       string `yaml:"api_key,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Organization string `yaml:"organization,omitempty"` // OpenAI only
	Model        string `yaml:"model,omitempty"`
	// Timeout bounds one HTTP round trip, in seconds.
	Timeout int `yaml:"timeout,omitempty" validate:"omitempty,gte=1"`
}

// RetryConfig is the retry budget shared by every provider.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts,omitempty" validate:"gte=1,lte=20"`
	BaseDelay   time.Duration `yaml:"base_delay,omitempty" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay,omitempty" validate:"gte=0"`
}

// PricingConfig points at a pricing table replacing the built-in one.
type PricingConfig struct {
	File  string `yaml:"file,omitempty"`
	Watch bool   `yaml:"watch,omitempty"` // reload the file when it changes
}

// ConversationsConfig selects where conversation history is kept.
type ConversationsConfig struct {
	Backend       string        `yaml:"backend,omitempty" validate:"oneof=memory sqlite"`
	DSN           string        `yaml:"dsn,omitempty" validate:"required_if=Backend sqlite"`
	MaxTurns      int           `yaml:"max_turns,omitempty"` // negative disables the cap
	IdleTTL       time.Duration `yaml:"idle_ttl,omitempty" validate:"gte=0"`
	SweepSchedule string        `yaml:"sweep_schedule,omitempty"` // cron spec; empty disables sweeping
}

// ImagesConfig controls how local images are prepared.
type ImagesConfig struct {
	MaxSize uint `yaml:"max_size,omitempty"`                         // longest side in pixels, 0 keeps the original
	Quality int  `yaml:"quality,omitempty" validate:"gte=0,lte=100"` // JPEG quality for resized images
}

// MetricsConfig controls the Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// Config is the genllm configuration file.
type Config struct {
	DefaultProvider string                    `yaml:"default_provider,omitempty" validate:"required"`
	SystemPrompt    string                    `yaml:"system_prompt,omitempty"`
	Providers       map[string]ProviderConfig `yaml:"providers,omitempty" validate:"dive"`
	Retry           RetryConfig               `yaml:"retry,omitempty"`
	Pricing         PricingConfig             `yaml:"pricing,omitempty"`
	Conversations   ConversationsConfig       `yaml:"conversations,omitempty"`
	Images          ImagesConfig              `yaml:"images,omitempty"`
	Metrics         MetricsConfig             `yaml:"metrics,omitempty"`
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() Config {
	return Config{
		DefaultProvider: llm.ProviderOpenAI,
		SystemPrompt:    "A helpful assistant that provides accurate information.",
		Providers:       make(map[string]ProviderConfig),
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    60 * time.Second,
		},
		Conversations: ConversationsConfig{
			Backend:  "sqlite",
			DSN:      "~/.genllm/conversations.db",
			MaxTurns: 200,
		},
		Images: ImagesConfig{
			MaxSize: 2048,
			Quality: 85,
		},
		Metrics: MetricsConfig{
			Namespace: "genllm",
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via GENLLM_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("GENLLM_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.genllm/config.yaml"
	}
	return filepath.Join(homeDir, ".genllm", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		p = expandPath(p)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the config file at path and merges it onto the defaults.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	defaults := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}
		user, err := Parse(data)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(&defaults, user, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}
	}

	if defaults.Providers == nil {
		defaults.Providers = make(map[string]ProviderConfig)
	}
	normalized := make(map[string]ProviderConfig, len(defaults.Providers))
	for name, p := range defaults.Providers {
		normalized[strings.ToLower(name)] = p
	}
	defaults.Providers = normalized
	defaults.DefaultProvider = strings.ToLower(defaults.DefaultProvider)
	defaults.Pricing.File = expandPath(defaults.Pricing.File)
	defaults.Conversations.DSN = expandPath(defaults.Conversations.DSN)

	if err := Validate(&defaults); err != nil {
		return nil, err
	}
	return &defaults, nil
}

// Parse decodes a config document without applying defaults.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ProviderSettings converts the providers section for llm.NewProviderRegistry.
func (c *Config) ProviderSettings() map[string]llm.ProviderSettings {
	out := make(map[string]llm.ProviderSettings, len(c.Providers))
	for name, p := range c.Providers {
		out[name] = llm.ProviderSettings{
			APIKey:       p.APIKey,
			BaseURL:      p.BaseURL,
			Organization: p.Organization,
			Model:        p.Model,
		}
	}
	return out
}

// Timeout returns the request timeout configured for provider, or zero.
func (c *Config) Timeout(provider string) time.Duration {
	p, ok := c.Providers[strings.ToLower(provider)]
	if !ok || p.Timeout <= 0 {
		return 0
	}
	return time.Duration(p.Timeout) * time.Second
}

// Redacted returns a copy with API keys masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, p := range c.Providers {
		if p.APIKey != "" {
			p.APIKey = "****"
		}
		out.Providers[name] = p
	}
	return out
}
