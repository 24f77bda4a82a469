package gemini

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

func newTestClient(t *testing.T, handler http.HandlerFunc) *GeminiClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c, err := NewGeminiClient(Config{APIKey: "test-key", BaseURL: server.URL, Model: "gemini-2.5-flash"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewGeminiClient() error = %v", err)
	}
	return c
}

func TestSynchronous(t *testing.T) {
	var body []byte
	var path, key string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.Header.Get("x-goog-api-key")
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
  "candidates": [{"content": {"role": "model", "parts": [{"text": "Par"}, {"text": "is"}]}, "finishReason": "STOP"}],
  "usageMetadata": {"promptTokenCount": 100, "candidatesTokenCount": 20, "totalTokenCount": 120, "cachedContentTokenCount": 80},
  "modelVersion": "gemini-2.5-flash"
}`)
	})

	res, err := c.Synchronous(context.Background(), &llm.Request{
		System: "Be terse.",
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleUser, "Hi"),
			llm.NewTextMessage(llm.RoleAssistant, "Hello"),
			{Role: llm.RoleUser, Content: []llm.ContentBlock{
				{Type: llm.ContentBlockTypeImage, Image: &llm.ImageSource{MediaType: "image/png", Data: "aGk="}},
				{Type: llm.ContentBlockTypeText, Text: "Capital of France?"},
			}},
		},
		Cache: llm.CacheDirective{Handle: "abc123"},
	})
	if err != nil {
		t.Fatalf("Synchronous() error = %v", err)
	}

	if path != "/v1beta/models/gemini-2.5-flash:generateContent" {
		t.Errorf("path = %s", path)
	}
	if key != "test-key" {
		t.Errorf("api key header = %q", key)
	}
	if res.Text != "Paris" || res.FinishReason != llm.FinishReasonStop {
		t.Errorf("result = %q/%q", res.Text, res.FinishReason)
	}
	if got := gjson.GetBytes(res.Usage, "cachedContentTokenCount").Int(); got != 80 {
		t.Errorf("cachedContentTokenCount = %d", got)
	}

	sent := gjson.ParseBytes(body)
	if got := sent.Get("cachedContent").String(); got != "cachedContents/abc123" {
		t.Errorf("cachedContent = %q", got)
	}
	if sent.Get("systemInstruction").Exists() {
		t.Error("system instruction must be omitted when a cached content is referenced")
	}
	if got := sent.Get("contents.1.role").String(); got != "model" {
		t.Errorf("assistant role = %q, want model", got)
	}
	if got := sent.Get("contents.2.parts.0.inlineData.mimeType").String(); got != "image/png" {
		t.Errorf("inline image mimeType = %q", got)
	}
	if got := sent.Get("contents.2.parts.0.inlineData.data").String(); got != "aGk=" {
		t.Errorf("inline image data = %q", got)
	}
}

func TestSynchronous_StructuredOutput(t *testing.T) {
	var body []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"{\"city\":\"Paris\"}"}]},"finishReason":"STOP"}]}`)
	})
	temp := 0.0
	res, err := c.Synchronous(context.Background(), &llm.Request{
		System:         "Be terse.",
		Temperature:    &temp,
		Messages:       []llm.Message{llm.NewTextMessage(llm.RoleUser, "Capital of France?")},
		ResponseSchema: &llm.Schema{Definition: map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": []any{"string", "null"}}},
		}},
	})
	if err != nil {
		t.Fatalf("Synchronous() error = %v", err)
	}
	if res.Text != `{"city":"Paris"}` {
		t.Errorf("Text = %q", res.Text)
	}
	if res.Usage != nil {
		t.Errorf("Usage = %s, want nil when the reply has none", res.Usage)
	}

	sent := gjson.ParseBytes(body)
	if got := sent.Get("generationConfig.responseMimeType").String(); got != "application/json" {
		t.Errorf("responseMimeType = %q", got)
	}
	if got := sent.Get("generationConfig.responseSchema.type").String(); !strings.EqualFold(got, "object") {
		t.Errorf("responseSchema = %s", sent.Get("generationConfig.responseSchema").Raw)
	}
	if !sent.Get("generationConfig.temperature").Exists() {
		t.Error("explicit zero temperature should be sent")
	}
	if !sent.Get("generationConfig.responseSchema.properties.city.nullable").Bool() {
		t.Errorf("city should be nullable: %s", sent.Get("generationConfig.responseSchema").Raw)
	}
	if got := sent.Get("systemInstruction.parts.0.text").String(); got != "Be terse." {
		t.Errorf("systemInstruction = %q", got)
	}
}

func TestSynchronous_BlockedPromptIsFatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"promptFeedback":{"blockReason":"SAFETY"},"usageMetadata":{"promptTokenCount":5}}`)
	})
	res, err := c.Synchronous(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "bad")},
	})
	if res != nil {
		t.Errorf("result = %+v, want nil for a blocked prompt", res)
	}
	if !llm.IsFatalError(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if !strings.Contains(err.Error(), "SAFETY") {
		t.Errorf("error = %v, want the block reason", err)
	}
}

func TestSynchronous_ZeroOutputTokensKept(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":""}]},"finishReason":"MAX_TOKENS"}],
"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":0,"totalTokenCount":7}}`)
	})
	res, err := c.Synchronous(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
	})
	if err != nil {
		t.Fatalf("Synchronous() error = %v", err)
	}
	out := gjson.GetBytes(res.Usage, "candidatesTokenCount")
	if !out.Exists() || out.Int() != 0 {
		t.Errorf("Usage = %s, want candidatesTokenCount 0", res.Usage)
	}
	if gjson.GetBytes(res.Usage, "cachedContentTokenCount").Exists() {
		t.Errorf("Usage = %s, want no cached count", res.Usage)
	}
}

func TestSynchronous_RateLimitRetryInfo(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED",
"details":[{"@type":"type.googleapis.com/google.rpc.QuotaFailure"},{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"7s"}]}}`)
	})
	_, err := c.Synchronous(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
	})
	if !llm.IsRateLimitError(err) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if ra := llm.ExtractRetryAfter(err); ra == nil || *ra != 7*time.Second {
		t.Errorf("ExtractRetryAfter() = %v, want 7s", ra)
	}
}

func TestSynchronous_Fatal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"code":400,"message":"Invalid argument","status":"INVALID_ARGUMENT"}}`)
	})
	_, err := c.Synchronous(context.Background(), &llm.Request{
		Messages: []llm.Message{llm.NewTextMessage(llm.RoleUser, "hi")},
	})
	if !llm.IsFatalError(err) {
		t.Errorf("expected fatal error, got %v", err)
	}
}

func TestListModels_Paginates(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "" {
			_, _ = io.WriteString(w, `{"models":[{"name":"models/gemini-2.5-flash"}],"nextPageToken":"p2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"models":[{"name":"models/gemini-2.5-pro"}]}`)
	})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if calls != 2 || len(models) != 2 {
		t.Fatalf("calls = %d, models = %+v", calls, models)
	}
	if models[0].ID != "gemini-2.5-flash" || models[1].ID != "gemini-2.5-pro" {
		t.Errorf("models = %+v", models)
	}
}

func TestNormalizeSchema(t *testing.T) {
	got := normalizeSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		},
	}).(map[string]any)
	if got["type"] != "OBJECT" {
		t.Errorf("type = %v", got["type"])
	}
	tags := got["properties"].(map[string]any)["tags"].(map[string]any)
	if tags["type"] != "ARRAY" || tags["items"].(map[string]any)["type"] != "STRING" {
		t.Errorf("tags = %v", tags)
	}
}
