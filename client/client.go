// Package client is the request orchestrator. It turns one prompt into one
// adapter call: history is prepended, the cache intent is translated for the
// provider, the call runs under the retry policy, usage is normalized and
// priced, and the turn pair is appended to the conversation store.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/aschepis/backscratcher/genllm/cache"
	genctx "github.com/aschepis/backscratcher/genllm/context"
	"github.com/aschepis/backscratcher/genllm/conversations"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/aschepis/backscratcher/genllm/metrics"
	"github.com/aschepis/backscratcher/genllm/pricing"
	"github.com/aschepis/backscratcher/genllm/retry"
	"github.com/aschepis/backscratcher/genllm/usage"
	"github.com/rs/zerolog"
)

// DefaultSystemPrompt is used when neither the client nor the request sets one.
const DefaultSystemPrompt = "A helpful assistant that provides accurate information."

// PromptRequest is one call's input.
type PromptRequest struct {
	Model  string
	Prompt string
	// System overrides the client's system prompt for this call.
	System string

	// Images and Files are attachment blocks, usually built by the
	// attachments package. Files are rendered into the prompt text.
	Images []llm.ContentBlock
	Files  []llm.ContentBlock

	Cache cache.Intent

	// ConversationID continues a conversation. When empty a new one is
	// started unless Stateless is set.
	ConversationID string
	Stateless      bool

	ResponseSchema *llm.Schema
	MaxTokens      int64
	Temperature    *float64
	TopP           *float64
	Params         map[string]any
}

// Result is delivered on the channel returned by PromptAsync.
type Result struct {
	Response *Response
	Err      error
}

// CallError is returned when the adapter call failed for good. The
// classified adapter error is preserved and reachable with errors.As.
type CallError struct {
	Provider string
	Model    string
	Attempts int
	Duration time.Duration
	Err      error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("%s/%s failed after %d attempt(s) in %s: %v", e.Provider, e.Model, e.Attempts, e.Duration.Round(time.Millisecond), e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Client orchestrates prompt calls. It is safe for concurrent use.
type Client struct {
	store        conversations.Store
	translator   *cache.Translator
	retrier      *retry.Retrier
	pricing      *pricing.Resolver
	metrics      *metrics.Collector
	ledger       *usage.Ledger
	middleware   []llm.Middleware
	systemPrompt string
	now          func() time.Time
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithStore replaces the in-memory conversation store.
func WithStore(s conversations.Store) Option {
	return func(c *Client) {
		c.store = s
	}
}

// WithRetrier replaces the default retry policy.
func WithRetrier(r *retry.Retrier) Option {
	return func(c *Client) {
		c.retrier = r
	}
}

// WithPricing replaces the resolver used to price calls.
func WithPricing(r *pricing.Resolver) Option {
	return func(c *Client) {
		c.pricing = r
	}
}

// WithMetrics records every call on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLedger accumulates usage into l.
func WithLedger(l *usage.Ledger) Option {
	return func(c *Client) {
		c.ledger = l
	}
}

// WithMiddleware wraps every adapter call in mw. Middleware runs once per
// attempt, inside the retry loop.
func WithMiddleware(mw ...llm.Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, mw...)
	}
}

// WithSystemPrompt sets the default system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Client) {
		c.systemPrompt = prompt
	}
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// New creates a Client. Without options it keeps conversations in memory,
// retries with retry.DefaultPolicy and prices with the built-in table.
func New(logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		systemPrompt: DefaultSystemPrompt,
		now:          time.Now,
		logger:       logger.With().Str("component", "client").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		c.store = conversations.NewMemoryStore(logger)
	}
	if c.translator == nil {
		c.translator = cache.NewTranslator(logger)
	}
	if c.retrier == nil {
		c.retrier = retry.New(retry.DefaultPolicy(), logger)
	}
	if c.pricing == nil {
		c.pricing = pricing.NewResolver(logger, pricing.WithTable(pricing.DefaultTable()))
	}
	if c.ledger == nil {
		c.ledger = usage.NewLedger()
	}
	return c
}

// Ledger returns the usage accumulated by this client.
func (c *Client) Ledger() *usage.Ledger {
	return c.ledger
}

// Pricing returns the resolver the client prices calls with.
func (c *Client) Pricing() *pricing.Resolver {
	return c.pricing
}

// Prompt runs one call against adapter and waits for the result.
func (c *Client) Prompt(ctx context.Context, adapter llm.Client, req PromptRequest) (*Response, error) {
	if adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	adapter = llm.WrapWithMiddleware(adapter, c.middleware...)
	provider := adapter.Provider()
	caps, _ := llm.LookupCapabilities(provider)

	var history []conversations.Turn
	if req.ConversationID != "" && !req.Stateless {
		var err error
		history, err = c.store.History(ctx, req.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load conversation %s: %w", req.ConversationID, err)
		}
	}

	userMsg := c.userMessage(req, caps)
	msgs := append(conversations.ToMessages(history), userMsg)

	system := req.System
	if system == "" {
		system = c.systemPrompt
	}
	llmReq := &llm.Request{
		Model:          req.Model,
		Messages:       msgs,
		System:         system,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		Params:         req.Params,
		ResponseSchema: req.ResponseSchema,
	}
	c.translator.Translate(req.Cache, provider, llmReq.Messages).Apply(llmReq)

	ctx = genctx.WithRetryObserver(ctx, func(attempt int, delay time.Duration, err error) {
		c.metrics.ObserveRetry(provider, err)
		genctx.Debug(ctx, fmt.Sprintf("%s attempt %d failed, retrying in %s: %v", provider, attempt, delay, err))
	})

	var res *llm.Result
	start := c.now()
	attempts, err := c.retrier.Do(ctx, func(ctx context.Context) error {
		var callErr error
		res, callErr = adapter.Synchronous(ctx, llmReq)
		if callErr == nil && res == nil {
			return llm.NewFatalError("adapter returned no result", 0, nil).WithProvider(provider)
		}
		return callErr
	})
	duration := c.now().Sub(start)

	model := req.Model
	if model == "" && res != nil {
		model = res.Model
	}

	if err != nil {
		c.metrics.ObserveRequest(provider, model, duration, attempts, err)
		c.logger.Error().Err(err).
			Str("provider", provider).
			Str("model", model).
			Int("attempts", attempts).
			Dur("duration", duration).
			Msg("Prompt failed")
		return nil, &CallError{Provider: provider, Model: model, Attempts: attempts, Duration: duration, Err: err}
	}

	// A call that completed after its context was cancelled must not leave
	// a turn behind.
	if ctxErr := ctx.Err(); ctxErr != nil {
		c.metrics.ObserveRequest(provider, model, duration, attempts, ctxErr)
		return nil, &CallError{Provider: provider, Model: model, Attempts: attempts, Duration: duration, Err: ctxErr}
	}

	u := usage.Normalize(res.Usage, provider, model, c.pricing)

	conversationID := ""
	if !req.Stateless {
		conversationID, err = c.store.Append(ctx, req.ConversationID,
			conversations.Turn{Role: llm.RoleUser, Content: userMsg.Text()},
			conversations.Turn{Role: llm.RoleAssistant, Content: res.Text, Provider: provider, Model: model},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to record conversation turn: %w", err)
		}
	}

	c.ledger.Add(provider, model, u)
	c.metrics.ObserveUsage(provider, model, u)
	c.metrics.ObserveRequest(provider, model, duration, attempts, nil)

	event := c.logger.Debug().
		Str("provider", provider).
		Str("model", model).
		Int("attempts", attempts).
		Dur("duration", duration)
	if u.EstimatedCostUSD != nil {
		event = event.Float64("cost_usd", *u.EstimatedCostUSD)
	}
	event.Msg("Prompt completed")

	return &Response{
		Text:           res.Text,
		Model:          model,
		Provider:       provider,
		FinishReason:   res.FinishReason,
		Timestamp:      c.now(),
		Duration:       duration,
		Usage:          u,
		ConversationID: conversationID,
		Attempts:       attempts,
		Raw:            res.Raw,
	}, nil
}

// PromptAsync runs Prompt in its own goroutine. The channel receives exactly
// one Result and is then closed.
func (c *Client) PromptAsync(ctx context.Context, adapter llm.Client, req PromptRequest) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		resp, err := c.Prompt(ctx, adapter, req)
		ch <- Result{Response: resp, Err: err}
	}()
	return ch
}

// History returns the turns recorded for conversationID.
func (c *Client) History(ctx context.Context, conversationID string) ([]conversations.Turn, error) {
	return c.store.History(ctx, conversationID)
}

// Clear forgets conversationID.
func (c *Client) Clear(ctx context.Context, conversationID string) error {
	return c.store.Clear(ctx, conversationID)
}

// userMessage orders the prompt content as files, images, then text.
// Images are dropped for providers that cannot take them.
func (c *Client) userMessage(req PromptRequest, caps llm.Capabilities) llm.Message {
	content := make([]llm.ContentBlock, 0, len(req.Files)+len(req.Images)+1)
	content = append(content, req.Files...)
	if len(req.Images) > 0 {
		if caps.Multimodal {
			content = append(content, req.Images...)
		} else {
			c.logger.Debug().
				Str("provider", caps.Provider).
				Int("images", len(req.Images)).
				Msg("Provider is not multimodal, dropping images")
		}
	}
	content = append(content, llm.ContentBlock{Type: llm.ContentBlockTypeText, Text: req.Prompt})
	return llm.Message{Role: llm.RoleUser, Content: content}
}
