package openai

import (
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/genllm/llm"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAIMessages converts llm.Messages to OpenAI chat message format.
func ToOpenAIMessages(msgs []llm.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, ToOpenAIMessage(msg))
	}
	return result
}

// ToOpenAIMessage converts a single llm.Message to OpenAI format. Messages
// with images use multi-part content; everything else is sent as a plain
// string with files rendered inline.
func ToOpenAIMessage(msg llm.Message) openai.ChatCompletionMessage {
	var role string
	switch msg.Role {
	case llm.RoleAssistant:
		role = openai.ChatMessageRoleAssistant
	case llm.RoleSystem:
		role = openai.ChatMessageRoleSystem
	default:
		role = openai.ChatMessageRoleUser
	}

	hasImage := false
	for _, block := range msg.Content {
		if block.Type == llm.ContentBlockTypeImage && block.Image != nil {
			hasImage = true
			break
		}
	}
	if !hasImage {
		return openai.ChatCompletionMessage{Role: role, Content: msg.Text()}
	}

	parts := make([]openai.ChatMessagePart, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch block.Type {
		case llm.ContentBlockTypeText:
			if block.Text != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: block.Text,
				})
			}
		case llm.ContentBlockTypeFile:
			if block.File != nil {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: block.File.Render(),
				})
			}
		case llm.ContentBlockTypeImage:
			if block.Image != nil {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    block.Image.DataURL(),
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		}
	}
	return openai.ChatCompletionMessage{Role: role, MultiContent: parts}
}

// schemaMarshaler adapts a caller schema to the json.Marshaler the SDK wants.
type schemaMarshaler map[string]any

func (s schemaMarshaler) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any(s))
}

// jsonSchemaFormat builds the strict json_schema response format.
func jsonSchemaFormat(schema *llm.Schema) *openai.ChatCompletionResponseFormat {
	return &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
		JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
			Name:   sanitizeSchemaName(schema.NameOr("response")),
			Schema: schemaMarshaler(schema.Definition),
			Strict: true,
		},
	}
}

// schemaInstruction is appended to the system prompt when falling back to
// json_object mode, which does not carry the schema itself.
func schemaInstruction(schema *llm.Schema) string {
	return "Respond only with a JSON object matching this JSON schema:\n" + string(schema.SchemaJSON())
}

// sanitizeSchemaName keeps the characters OpenAI accepts in a schema name.
func sanitizeSchemaName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "response"
	}
	return b.String()
}
