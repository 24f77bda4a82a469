package ollama

import (
	"encoding/base64"
	"strings"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/ollama/ollama/api"
)

// ToOllamaMessages converts llm.Messages to Ollama format. It also returns
// how many remote image references had to be dropped.
func ToOllamaMessages(msgs []llm.Message) ([]api.Message, int) {
	result := make([]api.Message, 0, len(msgs))
	dropped := 0
	for _, msg := range msgs {
		m, d := ToOllamaMessage(msg)
		result = append(result, m)
		dropped += d
	}
	return result, dropped
}

// ToOllamaMessage converts a single llm.Message. Text and files become the
// message content; inline images are decoded into raw bytes.
func ToOllamaMessage(msg llm.Message) (api.Message, int) {
	var role string
	switch msg.Role {
	case llm.RoleAssistant:
		role = "assistant"
	case llm.RoleSystem:
		role = "system"
	default:
		role = "user"
	}

	out := api.Message{Role: role, Content: msg.Text()}
	dropped := 0
	for _, block := range msg.Content {
		if block.Type != llm.ContentBlockTypeImage || block.Image == nil {
			continue
		}
		if block.Image.IsURL() {
			dropped++
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(block.Image.Data))
		if err != nil {
			dropped++
			continue
		}
		out.Images = append(out.Images, api.ImageData(data))
	}
	return out, dropped
}
