package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxTokens is sent when the request does not set MaxTokens.
	// Anthropic rejects requests without it.
	DefaultMaxTokens = 4096

	sonnetMaxTokens = 8192
)

// AnthropicClient implements the llm.Client interface for Anthropic's API.
type AnthropicClient struct {
	client anthropic.Client
	logger zerolog.Logger
}

// Option configures an AnthropicClient.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) Option {
	return func(opts *[]option.RequestOption) {
		if url != "" {
			*opts = append(*opts, option.WithBaseURL(url))
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(opts *[]option.RequestOption) {
		*opts = append(*opts, option.WithHTTPClient(c))
	}
}

// NewAnthropicClient creates a new AnthropicClient with the given API key.
// SDK retries are disabled; retrying is the caller's policy.
func NewAnthropicClient(apiKey string, logger zerolog.Logger, opts ...Option) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	for _, opt := range opts {
		opt(&reqOpts)
	}

	return &AnthropicClient{
		client: anthropic.NewClient(reqOpts...),
		logger: logger.With().Str("component", "llm.anthropic").Logger(),
	}, nil
}

// Provider implements llm.Client.
func (c *AnthropicClient) Provider() string {
	return llm.ProviderAnthropic
}

// Synchronous implements llm.Client.Synchronous.
func (c *AnthropicClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	params := c.buildParams(req)

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		err = classify(err)
		// A rejected structured-output tool falls back once to plain text.
		if req.ResponseSchema == nil || !isToolRejection(err) {
			return nil, err
		}
		c.logger.Warn().Err(err).Msg("Structured output tool rejected, falling back to text mode")
		params.Tools = nil
		params.ToolChoice = anthropic.ToolChoiceUnionParam{}
		if message, err = c.client.Messages.New(ctx, params); err != nil {
			return nil, classify(err)
		}
	}

	text, structured := responseText(message)
	finish := llm.NormalizeFinishReason(string(message.StopReason))
	if structured {
		finish = llm.FinishReasonStop
	}
	if req.ResponseSchema != nil {
		text = llm.StripCodeFence(text)
	}

	// Log prompt cache information for tracking efficacy
	if message.Usage.CacheCreationInputTokens > 0 || message.Usage.CacheReadInputTokens > 0 {
		c.logger.Debug().
			Int64("input_tokens", message.Usage.InputTokens).
			Int64("cache_creation_tokens", message.Usage.CacheCreationInputTokens).
			Int64("cache_read_tokens", message.Usage.CacheReadInputTokens).
			Msg("Prompt cache stats")
	}

	return &llm.Result{
		Text:         text,
		Model:        string(message.Model),
		FinishReason: finish,
		Usage:        []byte(message.Usage.RawJSON()),
		Raw:          message,
	}, nil
}

func (c *AnthropicClient) buildParams(req *llm.Request) anthropic.MessageNewParams {
	msgs, system := ToMessageParams(req.Messages)
	if req.System != "" {
		system = strings.TrimSpace(req.System + "\n\n" + system)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens(req),
		Messages:  msgs,
		System:    buildSystemBlocks(system),
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(*req.TopP)
	}
	if v, ok := req.Params["top_k"]; ok {
		if k, ok := toInt64(v); ok {
			params.TopK = anthropic.Int(k)
		}
	}
	if v, ok := req.Params["stop_sequences"].([]string); ok {
		params.StopSequences = v
	}

	if req.ResponseSchema != nil {
		params.Tools = []anthropic.ToolUnionParam{structuredTool(req.ResponseSchema)}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{
			OfTool: &anthropic.ToolChoiceToolParam{Name: llm.StructuredToolName},
		}
	}
	return params
}

func maxTokens(req *llm.Request) int64 {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	if strings.Contains(strings.ToLower(req.Model), "sonnet") {
		return sonnetMaxTokens
	}
	return DefaultMaxTokens
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// ListModels implements llm.Client.
func (c *AnthropicClient) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	iter := c.client.Models.ListAutoPaging(ctx, anthropic.ModelListParams{})
	var models []llm.ModelInfo
	for iter.Next() {
		m := iter.Current()
		models = append(models, llm.ModelInfo{
			ID:      m.ID,
			Created: m.CreatedAt.Format(time.DateOnly),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return models, nil
}

// isToolRejection reports whether err is the API refusing the request body,
// as opposed to auth, quota or server trouble.
func isToolRejection(err error) bool {
	var llmErr *llm.Error
	if !errors.As(err, &llmErr) || llmErr.Kind != llm.ErrorKindFatal {
		return false
	}
	return llmErr.StatusCode == http.StatusBadRequest || llmErr.StatusCode == http.StatusUnprocessableEntity
}

// classify maps SDK errors onto the llm error taxonomy.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		var header http.Header
		if apiErr.Response != nil {
			header = apiErr.Response.Header
		}
		return llm.ClassifyStatus(llm.ProviderAnthropic, apiErr.StatusCode, header, apiErr.Error(), err)
	}
	return llm.ClassifyError(llm.ProviderAnthropic, err)
}
