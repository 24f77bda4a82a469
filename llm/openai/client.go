package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// passthroughParams are request params forwarded verbatim to OpenAI-compatible APIs.
var passthroughParams = []string{
	"seed",
	"stop",
	"frequency_penalty",
	"presence_penalty",
	"reasoning_effort",
	"service_tier",
	"user",
}

// OpenAIClient implements the llm.Client interface for OpenAI's API and the
// OpenAI-compatible APIs of other providers.
type OpenAIClient struct {
	client   *openai.Client
	provider string
	model    string // Default model to use if not specified in request
	logger   zerolog.Logger
}

// Config holds what is needed to reach one OpenAI-compatible endpoint.
type Config struct {
	Provider     string
	APIKey       string
	BaseURL      string
	Organization string
	Model        string

	// HTTPClient is the underlying client; nil uses http.DefaultTransport.
	HTTPClient *http.Client
}

// NewOpenAIClient creates a new OpenAIClient.
// If BaseURL is empty, it will use the default OpenAI API endpoint.
func NewOpenAIClient(cfg Config, logger zerolog.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Provider == "" {
		cfg.Provider = llm.ProviderOpenAI
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		config.OrgID = cfg.Organization
	}

	base := http.DefaultTransport
	httpClient := &http.Client{}
	if cfg.HTTPClient != nil {
		*httpClient = *cfg.HTTPClient
		if cfg.HTTPClient.Transport != nil {
			base = cfg.HTTPClient.Transport
		}
	}
	httpClient.Transport = &captureTransport{base: base}
	config.HTTPClient = httpClient

	return &OpenAIClient{
		client:   openai.NewClientWithConfig(config),
		provider: cfg.Provider,
		model:    cfg.Model,
		logger:   logger.With().Str("component", "llm.openai").Str("provider", cfg.Provider).Logger(),
	}, nil
}

// Provider implements llm.Client.
func (c *OpenAIClient) Provider() string {
	return c.provider
}

// Synchronous implements llm.Client.Synchronous.
func (c *OpenAIClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Result, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}

	model := req.Model
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}

	chatReq, extra := c.buildRequest(model, req, false)
	ex := &exchange{extra: extra}
	chatResp, err := c.client.CreateChatCompletion(withExchange(ctx, ex), chatReq)

	// Not every compatible endpoint understands json_schema. A rejected
	// schema falls back once to json_object mode.
	if err != nil && req.ResponseSchema != nil && isSchemaRejection(err) {
		c.logger.Warn().Err(err).Msg("json_schema response format rejected, falling back to json_object")
		chatReq, extra = c.buildRequest(model, req, true)
		ex = &exchange{extra: extra}
		chatResp, err = c.client.CreateChatCompletion(withExchange(ctx, ex), chatReq)
	}
	if err != nil {
		return nil, c.classify(err, ex.header)
	}

	if len(chatResp.Choices) == 0 {
		return nil, llm.NewFatalError("no choices in response", 0, nil).WithProvider(c.provider)
	}
	choice := chatResp.Choices[0]

	text := choice.Message.Content
	if req.ResponseSchema != nil {
		text = llm.StripCodeFence(text)
	}

	return &llm.Result{
		Text:         text,
		Model:        chatResp.Model,
		FinishReason: llm.NormalizeFinishReason(string(choice.FinishReason)),
		Usage:        ex.usage,
		Raw:          chatResp,
	}, nil
}

// buildRequest maps a neutral request onto the SDK request plus the extra
// body fields the SDK cannot express.
func (c *OpenAIClient) buildRequest(model string, req *llm.Request, jsonObjectFallback bool) (openai.ChatCompletionRequest, map[string]any) {
	msgs := ToOpenAIMessages(req.Messages)

	system := req.System
	if jsonObjectFallback {
		if system != "" {
			system += "\n\n"
		}
		system += schemaInstruction(req.ResponseSchema)
	}
	if system != "" {
		msgs = append([]openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		}}, msgs...)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = int(req.MaxTokens)
	}

	extra := make(map[string]any)

	// The SDK omits zero floats, so an explicit zero goes through extra.
	if req.Temperature != nil {
		chatReq.Temperature = float32(*req.Temperature)
		if *req.Temperature == 0 {
			extra["temperature"] = 0
		}
	}
	if req.TopP != nil {
		chatReq.TopP = float32(*req.TopP)
		if *req.TopP == 0 {
			extra["top_p"] = 0
		}
	}

	if req.ResponseSchema != nil {
		if jsonObjectFallback {
			chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		} else {
			chatReq.ResponseFormat = jsonSchemaFormat(req.ResponseSchema)
		}
	}

	if req.Cache.Key != "" {
		extra["prompt_cache_key"] = req.Cache.Key
	}
	if req.Cache.Retention != "" {
		extra["prompt_cache_retention"] = req.Cache.Retention
	}

	if caps, ok := llm.LookupCapabilities(c.provider); ok && caps.ReportsCost {
		// Aggregators only report the billed cost when asked to.
		extra["usage.include"] = true
	}

	for _, key := range passthroughParams {
		if v, ok := req.Params[key]; ok {
			extra[key] = v
		}
	}

	return chatReq, extra
}

// ListModels implements llm.Client.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	ex := &exchange{}
	list, err := c.client.ListModels(withExchange(ctx, ex))
	if err != nil {
		return nil, c.classify(err, ex.header)
	}

	models := make([]llm.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		info := llm.ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy}
		if m.CreatedAt > 0 {
			info.Created = time.Unix(m.CreatedAt, 0).UTC().Format(time.DateOnly)
		}
		models = append(models, info)
	}
	return models, nil
}

// classify converts SDK errors to the llm error taxonomy. header is the
// response header captured by the transport, used for Retry-After.
func (c *OpenAIClient) classify(err error, header http.Header) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return llm.ClassifyStatus(c.provider, apiErr.HTTPStatusCode, header, apiErr.Message, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return llm.ClassifyStatus(c.provider, reqErr.HTTPStatusCode, header, reqErr.Error(), err)
	}
	return llm.ClassifyError(c.provider, err)
}

func isSchemaRejection(err error) bool {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.HTTPStatusCode != http.StatusBadRequest && apiErr.HTTPStatusCode != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "schema") || strings.Contains(msg, "response_format")
}
