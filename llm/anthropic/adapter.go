package anthropic

import (
	"encoding/json"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/samber/lo"
)

// ToContentBlock converts a neutral block to an Anthropic content block.
// File blocks are sent as text. Blocks marked with CacheControl carry an
// ephemeral cache_control annotation.
func ToContentBlock(block llm.ContentBlock) (anthropic.ContentBlockParamUnion, bool) {
	var out anthropic.ContentBlockParamUnion
	switch block.Type {
	case llm.ContentBlockTypeText:
		if block.Text == "" {
			return out, false
		}
		out = anthropic.NewTextBlock(block.Text)
	case llm.ContentBlockTypeFile:
		if block.File == nil {
			return out, false
		}
		out = anthropic.NewTextBlock(block.File.Render())
	case llm.ContentBlockTypeImage:
		if block.Image == nil {
			return out, false
		}
		if block.Image.IsURL() {
			out = anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: block.Image.URL})
		} else {
			out = anthropic.NewImageBlockBase64(block.Image.MediaType, block.Image.Data)
		}
	default:
		return out, false
	}

	if block.CacheControl {
		switch {
		case out.OfText != nil:
			out.OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
		case out.OfImage != nil:
			out.OfImage.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
	}
	return out, true
}

// ToMessageParam converts an llm.Message to an Anthropic MessageParam.
func ToMessageParam(msg llm.Message) anthropic.MessageParam {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
	for _, block := range msg.Content {
		if converted, ok := ToContentBlock(block); ok {
			blocks = append(blocks, converted)
		}
	}

	switch msg.Role {
	case llm.RoleAssistant:
		return anthropic.NewAssistantMessage(blocks...)
	default:
		return anthropic.NewUserMessage(blocks...)
	}
}

// ToMessageParams converts messages, folding system messages into the
// returned system prompt since Anthropic takes it as a separate field.
func ToMessageParams(msgs []llm.Message) ([]anthropic.MessageParam, string) {
	var system []string
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		if msg.Role == llm.RoleSystem {
			system = append(system, msg.Text())
			continue
		}
		out = append(out, ToMessageParam(msg))
	}
	return out, strings.Join(system, "\n\n")
}

// buildSystemBlocks wraps the system prompt. An empty prompt sends no block.
func buildSystemBlocks(systemPrompt string) []anthropic.TextBlockParam {
	if systemPrompt == "" {
		return nil
	}
	return []anthropic.TextBlockParam{{Text: systemPrompt}}
}

// structuredTool builds the forced tool whose input schema is the caller's
// response schema.
func structuredTool(schema *llm.Schema) anthropic.ToolUnionParam {
	def := schema.Definition
	props := def["properties"]
	required := lo.FilterMap(toSlice(def["required"]), func(v any, _ int) (string, bool) {
		s, ok := v.(string)
		return s, ok
	})

	extra := make(map[string]any)
	for k, v := range def {
		switch k {
		case "type", "properties", "required":
		default:
			extra[k] = v
		}
	}

	tool := anthropic.ToolParam{
		Name:        llm.StructuredToolName,
		Description: anthropic.String("Return the response as structured data matching the schema."),
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties:  props,
			Required:    required,
			ExtraFields: extra,
		},
	}
	return anthropic.ToolUnionParam{OfTool: &tool}
}

func toSlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		return lo.Map(s, func(x string, _ int) any { return x })
	default:
		return nil
	}
}

// responseText extracts the reply. When the structured tool was called its
// input is the reply.
func responseText(message *anthropic.Message) (string, bool) {
	var text strings.Builder
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(block.Text)
		case anthropic.ToolUseBlock:
			if block.Name != llm.StructuredToolName {
				continue
			}
			data, err := json.Marshal(block.Input)
			if err != nil {
				continue
			}
			return string(data), true
		}
	}
	return text.String(), false
}
