package client

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	llmanthropic "github.com/aschepis/backscratcher/genllm/llm/anthropic"
	llmgemini "github.com/aschepis/backscratcher/genllm/llm/gemini"
	llmollama "github.com/aschepis/backscratcher/genllm/llm/ollama"
	llmopenai "github.com/aschepis/backscratcher/genllm/llm/openai"
	"github.com/rs/zerolog"
)

// NewAdapter builds the adapter for key, dispatching on the provider's
// capability family. timeout bounds a single HTTP round trip; zero keeps
// each adapter's default.
func NewAdapter(key *llm.ClientKey, timeout time.Duration, logger zerolog.Logger) (llm.Client, error) {
	caps, ok := llm.LookupCapabilities(key.Provider)
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", key.Provider)
	}

	var httpClient *http.Client
	if timeout > 0 {
		httpClient = &http.Client{Timeout: timeout}
	}

	switch caps.Family {
	case llm.FamilyAnthropic:
		if key.APIKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		var opts []llmanthropic.Option
		if key.BaseURL != "" {
			opts = append(opts, llmanthropic.WithBaseURL(key.BaseURL))
		}
		if httpClient != nil {
			opts = append(opts, llmanthropic.WithHTTPClient(httpClient))
		}
		c, err := llmanthropic.NewAnthropicClient(key.APIKey, logger, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create anthropic client: %w", err)
		}
		return c, nil

	case llm.FamilyOpenAI:
		c, err := llmopenai.NewOpenAIClient(llmopenai.Config{
			Provider:     caps.Provider,
			APIKey:       key.APIKey,
			BaseURL:      key.BaseURL,
			Organization: key.Organization,
			Model:        key.Model,
			HTTPClient:   httpClient,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", caps.Provider, err)
		}
		return c, nil

	case llm.FamilyOllama:
		c, err := llmollama.NewOllamaClient(key.BaseURL, key.Model, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return c, nil

	case llm.FamilyGemini:
		c, err := llmgemini.NewGeminiClient(llmgemini.Config{
			Provider:   caps.Provider,
			APIKey:     key.APIKey,
			BaseURL:    key.BaseURL,
			Model:      key.Model,
			HTTPClient: httpClient,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s client: %w", caps.Provider, err)
		}
		return c, nil
	}

	return nil, fmt.Errorf("provider %s has no adapter family", key.Provider)
}

// AdapterCache hands out one adapter per distinct ClientKey.
type AdapterCache struct {
	mu       sync.RWMutex
	adapters map[string]llm.Client
	logger   zerolog.Logger
	build    func(*llm.ClientKey, time.Duration, zerolog.Logger) (llm.Client, error)
}

// NewAdapterCache creates an empty cache.
func NewAdapterCache(logger zerolog.Logger) *AdapterCache {
	return &AdapterCache{
		adapters: make(map[string]llm.Client),
		logger:   logger,
		build:    NewAdapter,
	}
}

// Get returns the cached adapter for key and timeout, creating it on first use.
func (a *AdapterCache) Get(key *llm.ClientKey, timeout time.Duration) (llm.Client, error) {
	keyStr := fmt.Sprintf("%s:%s:%s:%s:%s:%s", key.Provider, key.Model, key.APIKey, key.BaseURL, key.Organization, timeout)

	a.mu.RLock()
	if c, ok := a.adapters[keyStr]; ok {
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	// Not cached. Build without holding the lock.
	c, err := a.build(key, timeout, a.logger)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	// Another goroutine might have built it meanwhile.
	if existing, ok := a.adapters[keyStr]; ok {
		return existing, nil
	}
	a.adapters[keyStr] = c
	return c, nil
}
