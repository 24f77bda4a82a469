package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
)

// optionParams are request params forwarded as Ollama model options.
var optionParams = []string{"top_k", "seed", "stop", "num_ctx", "repeat_penalty", "min_p"}

// OllamaClient implements the llm.Client interface for Ollama's API.
type OllamaClient struct {
	client *api.Client
	model  string // Default model to use if not specified in request
	logger zerolog.Logger
}

// NewOllamaClient creates a new OllamaClient.
// If host is empty, it will use the default from environment (OLLAMA_HOST or http://localhost:11434).
func NewOllamaClient(host, model string, logger zerolog.Logger) (*OllamaClient, error) {
	var client *api.Client
	var err error

	if host != "" {
		baseURL, err := parseHost(host)
		if err != nil {
			return nil, fmt.Errorf("invalid host: %w", err)
		}
		client = api.NewClient(baseURL, &http.Client{})
	} else {
		client, err = api.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
	}

	return &OllamaClient{
		client: client,
		model:  model,
		logger: logger.With().Str("component", "llm.ollama").Logger(),
	}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// Provider implements llm.Client.
func (c *OllamaClient) Provider() string {
	return llm.ProviderOllama
}

// Synchronous implements llm.Client.Synchronous.
func (c *OllamaClient) Synchronous(ctx context.Context, req *llm.Request) (*llm.Result, error) {
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

	msgs, dropped := ToOllamaMessages(req.Messages)
	if dropped > 0 {
		c.logger.Warn().Int("images", dropped).Msg("Ollama only accepts inline images, dropping remote references")
	}
	if req.System != "" {
		msgs = append([]api.Message{{Role: "system", Content: req.System}}, msgs...)
	}

	chatReq := &api.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   new(bool), // false for non-streaming
		Options:  make(map[string]any),
	}
	if req.MaxTokens > 0 {
		chatReq.Options["num_predict"] = int(req.MaxTokens)
	}
	if req.Temperature != nil {
		chatReq.Options["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		chatReq.Options["top_p"] = *req.TopP
	}
	for _, key := range optionParams {
		if v, ok := req.Params[key]; ok {
			chatReq.Options[key] = v
		}
	}
	if schema := req.ResponseSchema.SchemaJSON(); schema != nil {
		chatReq.Format = schema
	}

	var chatResp api.ChatResponse
	err := c.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		chatResp = resp
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	text := chatResp.Message.Content
	if req.ResponseSchema != nil {
		text = llm.StripCodeFence(text)
	}

	finish := llm.NormalizeFinishReason(chatResp.DoneReason)
	if finish == llm.FinishReasonUnknown && chatResp.Done {
		finish = llm.FinishReasonStop
	}

	return &llm.Result{
		Text:         text,
		Model:        chatResp.Model,
		FinishReason: finish,
		Usage:        usageOf(chatResp),
		Raw:          chatResp,
	}, nil
}

// usageOf writes the eval counts under Ollama's wire names. The SDK struct
// omits zero counts, so they are set explicitly to keep a real zero apart
// from an unreported one. Only the final message carries counts.
func usageOf(resp api.ChatResponse) json.RawMessage {
	if !resp.Done {
		return nil
	}
	raw := "{}"
	raw, _ = sjson.Set(raw, "prompt_eval_count", resp.PromptEvalCount)
	raw, _ = sjson.Set(raw, "eval_count", resp.EvalCount)
	return json.RawMessage(raw)
}

// ListModels implements llm.Client. Ollama lists the locally pulled models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]llm.ModelInfo, error) {
	list, err := c.client.List(ctx)
	if err != nil {
		return nil, classify(err)
	}
	models := make([]llm.ModelInfo, 0, len(list.Models))
	for _, m := range list.Models {
		info := llm.ModelInfo{ID: m.Name}
		if !m.ModifiedAt.IsZero() {
			info.Created = m.ModifiedAt.Format(time.DateOnly)
		}
		models = append(models, info)
	}
	return models, nil
}

// classify maps Ollama errors onto the llm error taxonomy. A local server
// that is not reachable is transient; it may be starting up.
func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		msg := statusErr.ErrorMessage
		if msg == "" {
			msg = statusErr.Status
		}
		return llm.ClassifyStatus(llm.ProviderOllama, statusErr.StatusCode, nil, msg, err)
	}
	return llm.ClassifyError(llm.ProviderOllama, err)
}
