package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/genllm/cache"
	"github.com/aschepis/backscratcher/genllm/client"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/aschepis/backscratcher/genllm/usage"
	"github.com/spf13/cobra"
)

var promptFlags struct {
	provider       string
	model          string
	system         string
	images         []string
	files          []string
	cache          bool
	cacheID        string
	cacheKey       string
	cacheRetention string
	conversation   string
	stateless      bool
	schema         string
	maxTokens      int64
	temperature    float64
	jsonOut        bool
}

var promptCmd = &cobra.Command{
	Use:   "prompt [text]",
	Short: "Send a prompt to a provider",
	Long: `Send a prompt to a provider and print the reply.

The prompt is taken from the arguments, or from stdin when none are given.
Token usage, cost and the conversation id are printed to stderr so stdout
carries only the reply.`,
	Example: `  genllm prompt "Summarize RFC 9110 in one sentence"
  genllm prompt -p ollama -m llama3.2 --file notes.md "What is missing here?"
  echo "hi" | genllm prompt --stateless`,
	RunE: runPrompt,
}

func init() {
	f := promptCmd.Flags()
	f.StringVarP(&promptFlags.provider, "provider", "p", "", "provider name (default from config)")
	f.StringVarP(&promptFlags.model, "model", "m", "", "model name (default from config)")
	f.StringVar(&promptFlags.system, "system", "", "system prompt for this call")
	f.StringSliceVar(&promptFlags.images, "image", nil, "image path or URL to attach (repeatable)")
	f.StringSliceVar(&promptFlags.files, "file", nil, "text file to attach (repeatable)")
	f.BoolVar(&promptFlags.cache, "cache", false, "ask the provider to cache the prompt prefix")
	f.StringVar(&promptFlags.cacheID, "cache-id", "", "pre-created cache handle (handle-based providers)")
	f.StringVar(&promptFlags.cacheKey, "cache-key", "", "prompt cache routing key (automatic providers)")
	f.StringVar(&promptFlags.cacheRetention, "cache-retention", "", "prompt cache retention hint, e.g. 24h")
	f.StringVarP(&promptFlags.conversation, "conversation", "C", "", "continue this conversation id")
	f.BoolVar(&promptFlags.stateless, "stateless", false, "do not read or record conversation history")
	f.StringVar(&promptFlags.schema, "schema", "", "JSON schema file for structured output")
	f.Int64Var(&promptFlags.maxTokens, "max-tokens", 0, "maximum output tokens")
	f.Float64Var(&promptFlags.temperature, "temperature", 0, "sampling temperature")
	f.BoolVar(&promptFlags.jsonOut, "json", false, "print the full response as JSON")

	rootCmd.AddCommand(promptCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	text, err := promptText(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), func(a *app) error {
		adapter, model, err := a.adapter(promptFlags.provider, promptFlags.model)
		if err != nil {
			return err
		}

		req := client.PromptRequest{
			Model:          model,
			Prompt:         text,
			System:         promptFlags.system,
			ConversationID: promptFlags.conversation,
			Stateless:      promptFlags.stateless,
			MaxTokens:      promptFlags.maxTokens,
			Cache: cache.Intent{
				Enabled:              promptFlags.cache || promptFlags.cacheID != "" || promptFlags.cacheKey != "",
				CacheID:              promptFlags.cacheID,
				PromptCacheKey:       promptFlags.cacheKey,
				PromptCacheRetention: promptFlags.cacheRetention,
			},
		}
		if cmd.Flags().Changed("temperature") {
			t := promptFlags.temperature
			req.Temperature = &t
		}
		if promptFlags.schema != "" {
			if req.ResponseSchema, err = loadSchema(promptFlags.schema); err != nil {
				return err
			}
		}
		if req.Images, err = a.loader.Images(promptFlags.images); err != nil {
			return err
		}
		if req.Files, err = a.loader.Files(promptFlags.files); err != nil {
			return err
		}

		resp, err := a.client.Prompt(cmd.Context(), adapter, req)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if promptFlags.jsonOut {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, resp.Text)
			fmt.Fprintln(cmd.ErrOrStderr(), footer(resp))
		}
		return a.writeMetrics(cmd.ErrOrStderr())
	})
}

// promptText joins args, falling back to stdin when there are none.
func promptText(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt from stdin: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("prompt is empty")
	}
	return text, nil
}

// loadSchema reads a JSON schema file. The file is either a bare schema or
// an object of the form {"name": ..., "schema": {...}}.
func loadSchema(path string) (*llm.Schema, error) {
	//nolint:gosec // G304: schema path comes from the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", path, err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if inner, ok := doc["schema"].(map[string]any); ok {
		if n, ok := doc["name"].(string); ok && n != "" {
			name = n
		}
		doc = inner
	}
	return &llm.Schema{Name: name, Definition: doc}, nil
}

// footer summarizes a response for stderr.
func footer(resp *client.Response) string {
	parts := []string{
		fmt.Sprintf("%s/%s", resp.Provider, resp.Model),
		resp.Duration.Round(time.Millisecond).String(),
	}
	if resp.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("%d attempts", resp.Attempts))
	}
	parts = append(parts, usageSummary(resp.Usage))
	if resp.ConversationID != "" {
		parts = append(parts, "conversation "+resp.ConversationID)
	}
	return strings.Join(parts, " | ")
}

func usageSummary(u usage.Usage) string {
	tokens := fmt.Sprintf("tokens in=%s out=%s", count(u.InputTokens), count(u.OutputTokens))
	if u.CachedTokens != nil || u.CacheReadTokens != nil {
		tokens += fmt.Sprintf(" cached=%d", derefInt(u.CachedTokens)+derefInt(u.CacheReadTokens))
	}
	if u.EstimatedCostUSD == nil {
		return tokens + " | cost unknown"
	}
	return tokens + fmt.Sprintf(" | $%.6f", *u.EstimatedCostUSD)
}

func count(p *int64) string {
	if p == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *p)
}

func derefInt(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
