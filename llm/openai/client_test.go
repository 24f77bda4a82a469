package openai

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const chatResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1735689600,
  "model": "gpt-4o-2024-08-06",
  "choices": [{"index": 0, "message": {"role": "assistant", "content": "Paris"}, "finish_reason": "stop"}],
  "usage": {"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120,
            "prompt_tokens_details": {"cached_tokens": 64}, "cost": 0.0042}
}`

type recorded struct {
	bodies []string
}

func newTestClient(t *testing.T, provider string, handler func(w http.ResponseWriter, r *http.Request, rec *recorded)) (*OpenAIClient, *recorded) {
	t.Helper()
	rec := &recorded{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec.bodies = append(rec.bodies, string(body))
		handler(w, r, rec)
	}))
	t.Cleanup(server.Close)

	c, err := NewOpenAIClient(Config{
		Provider: provider,
		APIKey:   "test-key",
		BaseURL:  server.URL + "/v1",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewOpenAIClient() error = %v", err)
	}
	return c, rec
}

func okHandler(w http.ResponseWriter, r *http.Request, _ *recorded) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, chatResponse)
}

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	if _, err := NewOpenAIClient(Config{}, zerolog.Nop()); err == nil {
		t.Error("expected error for empty api key")
	}
}

func TestSynchronous_CapturesRawUsage(t *testing.T) {
	c, rec := newTestClient(t, llm.ProviderOpenAI, okHandler)

	temp := 0.0
	res, err := c.Synchronous(context.Background(), &llm.Request{
		Model:       "gpt-4o",
		System:      "Be terse.",
		Temperature: &temp,
		Messages:    []llm.Message{llm.NewTextMessage(llm.RoleUser, "Capital of France?")},
		Cache:       llm.CacheDirective{Key: "tenant-a", Retention: "24h"},
		Params:      map[string]any{"seed": 7, "not_a_real_param": true},
	})
	if err != nil {
		t.Fatalf("Synchronous() error = %v", err)
	}
	if res.Text != "Paris" || res.FinishReason != llm.FinishReasonStop {
		t.Errorf("result = %q/%q", res.Text, res.FinishReason)
	}
	if got := gjson.GetBytes(res.Usage, "prompt_tokens_details.cached_tokens").Int(); got != 64 {
		t.Errorf("cached_tokens = %d, want 64", got)
	}
	if got := gjson.GetBytes(res.Usage, "cost").Float(); got != 0.0042 {
		t.Errorf("cost = %v, want 0.0042", got)
	}

	sent := gjson.Parse(rec.bodies[0])
	if got := sent.Get("messages.0.role").String(); got != "system" {
		t.Errorf("first message role = %q, want system", got)
	}
	if got := sent.Get("prompt_cache_key").String(); got != "tenant-a" {
		t.Errorf("prompt_cache_key = %q", got)
	}
	if got := sent.Get("prompt_cache_retention").String(); got != "24h" {
		t.Errorf("prompt_cache_retention = %q", got)
	}
	if !sent.Get("temperature").Exists() || sent.Get("temperature").Float() != 0 {
		t.Errorf("explicit zero temperature not sent: %s", rec.bodies[0])
	}
	if got := sent.Get("seed").Int(); got != 7 {
		t.Errorf("seed = %d, want 7", got)
	}
	if sent.Get("not_a_real_param").Exists() {
		t.Error("unknown params must not be forwarded")
	}
	if sent.Get("usage").Exists() {
		t.Error("openai requests should not ask for usage accounting")
	}
}

func TestSynchronous_OpenRouterAsksForCost(t *testing.T) {
	c, rec := newTestClient(t, llm.ProviderOpenRouter, okHandler)
	if c.Provider() != llm.ProviderOpenRouter {
		t.Errorf("Provider() = %q", c.Provider())
	}
	if _, err := c.Synchronous(context.Background(), &llm.Request{
		Model:    "openai/gpt-4o",
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
	}); err != nil {
		t.Fatalf("Synchronous() error = %v", err)
	}
	if !gjson.Get(rec.bodies[0], "usage.include").Bool() {
		t.Errorf("usage.include not set: %s", rec.bodies[0])
	}
}

func TestSynchronous_Images(t *testing.T) {
	c, rec := newTestClient(t, llm.ProviderOpenAI, okHandler)
	_, err := c.Synchronous(context.Background(), &llm.Request{
		Model: "gpt-4o",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: []llm.ContentBlock{
			{Type: llm.ContentBlockTypeImage, Image: &llm.ImageSource{MediaType: "image/png", Data: "aGk="}},
			{Type: llm.ContentBlockTypeImage, Image: &llm.ImageSource{URL: "https://example.com/a.jpg"}},
			{Type: llm.ContentBlockTypeText, Text: "Describe these."},
		}}},
	})
	if err != nil {
		t.Fatalf("Synchronous() error = %v", err)
	}
	content := gjson.Get(rec.bodies[0], "messages.0.content")
	if got := content.Get("0.image_url.url").String(); got != "data:image/png;base64,aGk=" {
		t.Errorf("inline image url = %q", got)
	}
	if got := content.Get("1.image_url.url").String(); got != "https://example.com/a.jpg" {
		t.Errorf("remote image url = %q", got)
	}
	if got := content.Get("2.text").String(); got != "Describe these." {
		t.Errorf("text part = %q", got)
	}
}

func TestSynchronous_SchemaFallback(t *testing.T) {
	c, rec := newTestClient(t, llm.ProviderDeepSeek, func(w http.ResponseWriter, r *http.Request, rec *recorded) {
		w.Header().Set("Content-Type", "application/json")
		if len(rec.bodies) == 1 {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"response_format json_schema is unavailable","type":"invalid_request_error"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","model":"deepseek-chat",
"choices":[{"index":0,"message":{"role":"assistant","content":"`+"```json\\n{\\\"city\\\":\\\"Paris\\\"}\\n```"+`"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":5,"completion_tokens":3,"total_tokens":8,"prompt_cache_hit_tokens":2}}`)
	})

	res, err := c.Synchronous(context.Background(), &llm.Request{
		Model:          "deepseek-chat",
		Messages:       []llm.Message{llm.NewTextMessage(llm.RoleUser, "Capital of France?")},
		ResponseSchema: &llm.Schema{Name: "city answer", Definition: map[string]any{"type": "object"}},
	})
	if err != nil {
		t.Fatalf("Synchronous() error = %v", err)
	}
	if res.Text != `{"city":"Paris"}` {
		t.Errorf("Text = %q", res.Text)
	}
	if len(rec.bodies) != 2 {
		t.Fatalf("server saw %d requests, want 2", len(rec.bodies))
	}
	if got := gjson.Get(rec.bodies[0], "response_format.type").String(); got != "json_schema" {
		t.Errorf("first response_format = %q", got)
	}
	if got := gjson.Get(rec.bodies[0], "response_format.json_schema.name").String(); got != "city_answer" {
		t.Errorf("schema name = %q", got)
	}
	if got := gjson.Get(rec.bodies[1], "response_format.type").String(); got != "json_object" {
		t.Errorf("fallback response_format = %q", got)
	}
	if !strings.Contains(gjson.Get(rec.bodies[1], "messages.0.content").String(), "JSON schema") {
		t.Error("fallback should carry the schema in the system prompt")
	}
	if got := gjson.GetBytes(res.Usage, "prompt_cache_hit_tokens").Int(); got != 2 {
		t.Errorf("usage from fallback call = %s", res.Usage)
	}
}

func TestSynchronous_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		header     map[string]string
		wantKind   llm.ErrorKind
		retryAfter time.Duration
	}{
		{"rate limited", http.StatusTooManyRequests, map[string]string{"Retry-After": "3"}, llm.ErrorKindRateLimited, 3 * time.Second},
		{"unavailable", http.StatusServiceUnavailable, nil, llm.ErrorKindTransient, 0},
		{"bad request", http.StatusBadRequest, nil, llm.ErrorKindFatal, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestClient(t, llm.ProviderOpenAI, func(w http.ResponseWriter, r *http.Request, _ *recorded) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, `{"error":{"message":"nope","type":"server_error"}}`)
			})
			_, err := c.Synchronous(context.Background(), &llm.Request{
				Model:    "gpt-4o",
				Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
			})
			if got := llm.KindOf(err); got != tt.wantKind {
				t.Errorf("KindOf() = %q, want %q (err: %v)", got, tt.wantKind, err)
			}
			if tt.retryAfter > 0 {
				if ra := llm.ExtractRetryAfter(err); ra == nil || *ra != tt.retryAfter {
					t.Errorf("ExtractRetryAfter() = %v, want %s", ra, tt.retryAfter)
				}
			}
			if len(rec.bodies) != 1 {
				t.Errorf("server saw %d requests, want 1", len(rec.bodies))
			}
		})
	}
}

func TestListModels(t *testing.T) {
	c, _ := newTestClient(t, llm.ProviderOpenAI, func(w http.ResponseWriter, r *http.Request, _ *recorded) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"id":"gpt-4o","object":"model","created":1735689600,"owned_by":"openai"}]}`)
	})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 1 || models[0].ID != "gpt-4o" || models[0].Created != "2025-01-01" {
		t.Errorf("ListModels() = %+v", models)
	}
}

func TestInjectFields(t *testing.T) {
	body, err := injectFields([]byte(`{"model":"m"}`), map[string]any{"usage.include": true, "seed": 1})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(body); got != `{"model":"m","seed":1,"usage":{"include":true}}` {
		t.Errorf("injectFields() = %s", got)
	}
}
