// Package gemini is an llm.Client for Google's Gemini API, built on the
// google.golang.org/genai SDK.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
	"google.golang.org/genai"
)

const cachedContentPrefix = "cachedContents/"

// Config holds what is needed to reach the Gemini API.
type Config struct {
	Provider   string
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// GeminiClient implements the llm.Client interface for the Gemini API.
type GeminiClient struct {
	client   *genai.Client
	provider string
	model    string
	logger   zerolog.Logger
}

// NewGeminiClient creates a new GeminiClient.
func NewGeminiClient(cfg Config, logger zerolog.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if cfg.Provider == "" {
		cfg.Provider = llm.ProviderGenAI
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		client:   client,
		provider: cfg.Provider,
		model:    cfg.Model,
		logger:   logger.With().Str("component", "llm.gemini").Logger(),
	}, nil
}

// Provider implements llm.Client.
func (c *GeminiClient) Provider() string {
	return c.provider
}

// Synchronous implements llm.Client.Synchronous.
func (c *GeminiClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Result, error) {
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

	contents, config, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Models.GenerateContent(ctx, strings.TrimPrefix(model, "models/"), contents, config)
	if err != nil {
		return nil, c.classify(err)
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			reason := string(resp.PromptFeedback.BlockReason)
			c.logger.Warn().Str("block_reason", reason).Msg("Prompt blocked")
			return nil, llm.NewFatalError("prompt blocked: "+reason, 0, nil).WithProvider(c.provider)
		}
		return nil, llm.NewFatalError("no candidates in response", 0, nil).WithProvider(c.provider)
	}

	candidate := resp.Candidates[0]
	var text strings.Builder
	if candidate.Content != nil {
		for _, p := range candidate.Content.Parts {
			if p == nil || p.Thought {
				continue
			}
			text.WriteString(p.Text)
		}
	}
	out := text.String()
	if req.ResponseSchema != nil {
		out = llm.StripCodeFence(out)
	}

	return &llm.Result{
		Text:         out,
		Model:        resp.ModelVersion,
		FinishReason: llm.NormalizeFinishReason(string(candidate.FinishReason)),
		Usage:        usageOf(resp.UsageMetadata),
		Raw:          resp,
	}, nil
}

// usageOf rebuilds the usage object under Gemini's wire names. The SDK
// fields are plain integers, so counts are written explicitly and a real
// zero survives.
func usageOf(u *genai.GenerateContentResponseUsageMetadata) json.RawMessage {
	if u == nil {
		return nil
	}
	raw := "{}"
	raw, _ = sjson.Set(raw, "promptTokenCount", u.PromptTokenCount)
	raw, _ = sjson.Set(raw, "candidatesTokenCount", u.CandidatesTokenCount)
	raw, _ = sjson.Set(raw, "totalTokenCount", u.TotalTokenCount)
	if u.CachedContentTokenCount > 0 {
		raw, _ = sjson.Set(raw, "cachedContentTokenCount", u.CachedContentTokenCount)
	}
	return json.RawMessage(raw)
}

func (c *GeminiClient) buildRequest(req *llm.Request) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	var system []string
	if req.System != "" {
		system = append(system, req.System)
	}

	var contents []*genai.Content
	for _, msg := range req.Messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg.Text())
			continue
		}
		content, err := toContent(msg)
		if err != nil {
			return nil, nil, err
		}
		contents = append(contents, content)
	}

	config := &genai.GenerateContentConfig{
		Temperature:     float32Ptr(req.Temperature),
		TopP:            float32Ptr(req.TopP),
		MaxOutputTokens: int32(req.MaxTokens), //nolint:gosec // token limits fit in int32
	}

	if handle := req.Cache.Handle; handle != "" {
		if !strings.HasPrefix(handle, cachedContentPrefix) {
			handle = cachedContentPrefix + handle
		}
		config.CachedContent = handle
		// A cached content carries its own system instruction and the
		// API rejects a second one.
		if len(system) > 0 {
			c.logger.Debug().Str("cached_content", handle).Msg("Dropping system instruction in favour of cached content")
			system = nil
		}
	}
	if len(system) > 0 {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}}}
	}

	applyParams(config, req.Params)

	if req.ResponseSchema != nil && req.ResponseSchema.Definition != nil {
		schema, err := toSchema(req.ResponseSchema.Definition)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid response schema: %w", err)
		}
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}
	return contents, config, nil
}

func applyParams(config *genai.GenerateContentConfig, params map[string]any) {
	if v, ok := number(params["top_k"]); ok {
		k := float32(v)
		config.TopK = &k
	}
	if v, ok := number(params["seed"]); ok {
		s := int32(v)
		config.Seed = &s
	}
	switch stop := params["stop"].(type) {
	case string:
		config.StopSequences = []string{stop}
	case []string:
		config.StopSequences = stop
	case []any:
		for _, s := range stop {
			if str, ok := s.(string); ok {
				config.StopSequences = append(config.StopSequences, str)
			}
		}
	}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func float32Ptr(v *float64) *float32 {
	if v == nil {
		return nil
	}
	f := float32(*v)
	return &f
}

func toContent(msg llm.Message) (*genai.Content, error) {
	role := "user"
	if msg.Role == llm.RoleAssistant {
		role = "model"
	}
	out := &genai.Content{Role: role}
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if block.Text != "" {
				out.Parts = append(out.Parts, &genai.Part{Text: block.Text})
			}
		case llm.ContentBlockTypeFile:
			if block.File != nil {
				out.Parts = append(out.Parts, &genai.Part{Text: block.File.Render()})
			}
		case llm.ContentBlockTypeImage:
			if block.Image == nil {
				continue
			}
			if block.Image.IsURL() {
				out.Parts = append(out.Parts, &genai.Part{FileData: &genai.FileData{MIMEType: block.Image.MediaType, FileURI: block.Image.URL}})
				continue
			}
			data, err := base64.StdEncoding.DecodeString(block.Image.Data)
			if err != nil {
				return nil, fmt.Errorf("invalid image data: %w", err)
			}
			out.Parts = append(out.Parts, &genai.Part{InlineData: &genai.Blob{MIMEType: block.Image.MediaType, Data: data}})
		}
	}
	if len(out.Parts) == 0 {
		out.Parts = []*genai.Part{{Text: ""}}
	}
	return out, nil
}

// toSchema converts a JSON schema into the SDK's OpenAPI subset. Type names
// are upper-cased and a ["T", "null"] type list becomes a nullable T.
func toSchema(def map[string]any) (*genai.Schema, error) {
	data, err := json.Marshal(normalizeSchema(def))
	if err != nil {
		return nil, err
	}
	var schema genai.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, err
	}
	return &schema, nil
}

func normalizeSchema(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			if k == "type" {
				switch t := child.(type) {
				case string:
					out[k] = strings.ToUpper(t)
				case []any:
					for _, item := range t {
						s, _ := item.(string)
						if s == "null" {
							out["nullable"] = true
						} else if s != "" {
							out[k] = strings.ToUpper(s)
						}
					}
				}
				continue
			}
			out[k] = normalizeSchema(child)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = normalizeSchema(child)
		}
		return out
	default:
		return v
	}
}

// ListModels implements llm.Client, following page tokens to the end.
func (c *GeminiClient) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	var models []llm.ModelInfo
	for m, err := range c.client.Models.All(ctx) {
		if err != nil {
			return nil, c.classify(err)
		}
		models = append(models, llm.ModelInfo{
			ID:      strings.TrimPrefix(m.Name, "models/"),
			OwnedBy: "google",
		})
	}
	return models, nil
}

// classify maps an SDK error onto the llm taxonomy. Gemini puts the retry
// hint in a RetryInfo detail rather than a header.
func (c *GeminiClient) classify(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return llm.ClassifyError(c.provider, err)
	}

	msg := apiErr.Message
	if apiErr.Status != "" {
		msg = apiErr.Status + ": " + msg
	}
	e := llm.ClassifyStatus(c.provider, apiErr.Code, nil, msg, err)
	if e.Kind == llm.ErrorKindRateLimited && e.RetryAfter == nil {
		e.RetryAfter = retryDelay(apiErr.Details)
	}
	return e
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func retryDelay(details []map[string]any) *time.Duration {
	for _, d := range details {
		delay, _ := d["retryDelay"].(string)
		if delay == "" {
			continue
		}
		if dur, err := time.ParseDuration(delay); err == nil {
			return &dur
		}
	}
	return nil
}
