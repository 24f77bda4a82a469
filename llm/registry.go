package llm

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
)

const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderSciCore    = "scicore"
	ProviderDeepSeek   = "deepseek"
	ProviderQwen       = "qwen"
	ProviderMistral    = "mistral"
	ProviderOllama     = "ollama"
	ProviderGenAI      = "genai"
	ProviderGoogle     = "google"
)

// Family names the adapter implementation a provider is served by.
type Family string

const (
	FamilyAnthropic Family = "anthropic"
	FamilyOpenAI    Family = "openai"
	FamilyOllama    Family = "ollama"
	FamilyGemini    Family = "gemini"
)

// CacheClass is how a provider exposes prompt caching.
type CacheClass string

const (
	// CacheAutomatic providers cache on their own once a prefix crosses a threshold.
	CacheAutomatic CacheClass = "automatic"
	// CacheExplicitAnnotation providers cache the blocks marked with cache control.
	CacheExplicitAnnotation CacheClass = "explicit-annotation"
	// CacheHandleBased providers reuse a cache created ahead of time and referenced by handle.
	CacheHandleBased CacheClass = "handle-based"
	// CacheUnsupported providers have no prompt caching.
	CacheUnsupported CacheClass = "unsupported"
)

// Capabilities describes what a provider supports and how to reach it.
type Capabilities struct {
	Provider       string
	Family         Family
	CacheClass     CacheClass
	Multimodal     bool
	ReportsCost    bool // usage carries an authoritative cost
	APIKeyEnv      string
	RequiresAPIKey bool
	DefaultBaseURL string
	DefaultModel   string
}

var capabilities = map[string]Capabilities{
	ProviderAnthropic: {
		Family:         FamilyAnthropic,
		CacheClass:     CacheExplicitAnnotation,
		Multimodal:     true,
		APIKeyEnv:      "ANTHROPIC_API_KEY",
		RequiresAPIKey: true,
		DefaultModel:   "claude-haiku-4-5",
	},
	ProviderOpenAI: {
		Family:         FamilyOpenAI,
		CacheClass:     CacheAutomatic,
		Multimodal:     true,
		APIKeyEnv:      "OPENAI_API_KEY",
		RequiresAPIKey: true,
		DefaultModel:   "gpt-4o-mini",
	},
	ProviderOpenRouter: {
		Family:         FamilyOpenAI,
		CacheClass:     CacheAutomatic,
		Multimodal:     true,
		ReportsCost:    true,
		APIKeyEnv:      "OPENROUTER_API_KEY",
		RequiresAPIKey: true,
		DefaultBaseURL: "https://openrouter.ai/api/v1",
	},
	ProviderSciCore: {
		Family:         FamilyOpenAI,
		CacheClass:     CacheUnsupported,
		Multimodal:     true,
		APIKeyEnv:      "SCICORE_API_KEY",
		RequiresAPIKey: true,
	},
	ProviderDeepSeek: {
		Family:         FamilyOpenAI,
		CacheClass:     CacheAutomatic,
		Multimodal:     true,
		APIKeyEnv:      "DEEPSEEK_API_KEY",
		RequiresAPIKey: true,
		DefaultBaseURL: "https://api.deepseek.com/v1",
		DefaultModel:   "deepseek-chat",
	},
	ProviderQwen: {
		Family:         FamilyOpenAI,
		CacheClass:     CacheUnsupported,
		Multimodal:     true,
		APIKeyEnv:      "DASHSCOPE_API_KEY",
		RequiresAPIKey: true,
		DefaultBaseURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1",
		DefaultModel:   "qwen-plus",
	},
	ProviderMistral: {
		Family:         FamilyOpenAI,
		CacheClass:     CacheUnsupported,
		Multimodal:     true,
		APIKeyEnv:      "MISTRAL_API_KEY",
		RequiresAPIKey: true,
		DefaultBaseURL: "https://api.mistral.ai/v1",
		DefaultModel:   "mistral-small-latest",
	},
	ProviderOllama: {
		Family:         FamilyOllama,
		CacheClass:     CacheUnsupported,
		Multimodal:     true,
		APIKeyEnv:      "OLLAMA_API_KEY",
		DefaultBaseURL: "http://localhost:11434",
	},
	ProviderGenAI: {
		Family:         FamilyGemini,
		CacheClass:     CacheHandleBased,
		Multimodal:     true,
		APIKeyEnv:      "GEMINI_API_KEY",
		RequiresAPIKey: true,
		DefaultBaseURL: "https://generativelanguage.googleapis.com",
		DefaultModel:   "gemini-2.5-flash",
	},
	ProviderGoogle: {
		Family:         FamilyGemini,
		CacheClass:     CacheHandleBased,
		Multimodal:     true,
		APIKeyEnv:      "GEMINI_API_KEY",
		RequiresAPIKey: true,
		DefaultBaseURL: "https://generativelanguage.googleapis.com",
		DefaultModel:   "gemini-2.5-flash",
	},
}

// LookupCapabilities returns the capability entry for provider.
func LookupCapabilities(provider string) (Capabilities, bool) {
	c, ok := capabilities[strings.ToLower(provider)]
	if ok {
		c.Provider = strings.ToLower(provider)
	}
	return c, ok
}

// CacheClassOf returns the cache class for provider. Unknown providers are unsupported.
func CacheClassOf(provider string) CacheClass {
	if c, ok := LookupCapabilities(provider); ok {
		return c.CacheClass
	}
	return CacheUnsupported
}

// Providers returns all known provider names, sorted.
func Providers() []string {
	names := make([]string, 0, len(capabilities))
	for name := range capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ClientKey uniquely identifies an LLM client configuration.
type ClientKey struct {
	Provider     string
	Model        string
	APIKey       string
	BaseURL      string
	Organization string
}

// ProviderSettings holds the configured values for one provider.
// This avoids import cycles by not importing the config package.
type ProviderSettings struct {
	APIKey       string
	BaseURL      string
	Organization string
	Model        string
}

// ProviderRegistry resolves provider configuration into client keys.
// Client creation is handled by the caller to avoid import cycles.
type ProviderRegistry struct {
	mu       sync.RWMutex
	settings map[string]ProviderSettings
	getenv   func(string) string
}

// NewProviderRegistry creates a new ProviderRegistry with the given per-provider settings.
func NewProviderRegistry(settings map[string]ProviderSettings) *ProviderRegistry {
	normalized := make(map[string]ProviderSettings, len(settings))
	for name, s := range settings {
		normalized[strings.ToLower(name)] = s
	}
	return &ProviderRegistry{
		settings: normalized,
		getenv:   os.Getenv,
	}
}

// IsProviderConfigured checks if a provider has the required configuration.
func (r *ProviderRegistry) IsProviderConfigured(provider string) bool {
	_, err := r.ResolveClientKey(provider, "")
	return err == nil
}

// ResolveClientKey resolves the configuration for provider. Config values win
// over environment variables, which win over built-in defaults.
func (r *ProviderRegistry) ResolveClientKey(provider, modelOverride string) (*ClientKey, error) {
	caps, ok := LookupCapabilities(provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}

	r.mu.RLock()
	s := r.settings[caps.Provider]
	r.mu.RUnlock()

	key := &ClientKey{
		Provider:     caps.Provider,
		Model:        modelOverride,
		APIKey:       s.APIKey,
		BaseURL:      s.BaseURL,
		Organization: s.Organization,
	}

	if key.APIKey == "" && caps.APIKeyEnv != "" {
		key.APIKey = r.getenv(caps.APIKeyEnv)
	}
	if key.APIKey == "" && caps.RequiresAPIKey {
		return nil, fmt.Errorf("%s API key not configured (set %s)", caps.Provider, caps.APIKeyEnv)
	}

	envPrefix := strings.ToUpper(caps.Provider)
	if key.BaseURL == "" {
		key.BaseURL = r.getenv(envPrefix + "_BASE_URL")
	}
	if key.BaseURL == "" && caps.Family == FamilyOllama {
		key.BaseURL = r.getenv("OLLAMA_HOST")
	}
	if key.BaseURL == "" {
		key.BaseURL = caps.DefaultBaseURL
	}
	if key.BaseURL == "" && caps.Provider == ProviderSciCore {
		return nil, fmt.Errorf("scicore requires a base URL (set SCICORE_BASE_URL)")
	}

	if key.Organization == "" && caps.Provider == ProviderOpenAI {
		key.Organization = r.getenv("OPENAI_ORG_ID")
	}

	if key.Model == "" {
		key.Model = s.Model
	}
	if key.Model == "" {
		key.Model = r.getenv(envPrefix + "_MODEL")
	}
	if key.Model == "" {
		key.Model = caps.DefaultModel
	}

	return key, nil
}

// SetProvider replaces the settings for one provider.
func (r *ProviderRegistry) SetProvider(provider string, s ProviderSettings) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[strings.ToLower(provider)] = s
}
