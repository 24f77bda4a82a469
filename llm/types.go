package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message represents a single message in a conversation.
// This is provider-neutral and can represent user, assistant, or system messages.
type Message struct {
	Role    MessageRole
	Content []ContentBlock
}

// ContentBlock represents a single content block within a message.
// It can be text, an image reference or an attached file.
type ContentBlock struct {
	Type  ContentBlockType
	Text  string       // For text blocks
	Image *ImageSource // For image blocks
	File  *FileSource  // For file blocks

	// CacheControl marks the block as a cache breakpoint. Only providers in the
	// explicit-annotation cache class read it; everyone else ignores it.
	CacheControl bool
}

// ContentBlockType represents the type of content block.
type ContentBlockType string

const (
	ContentBlockTypeText  ContentBlockType = "text"
	ContentBlockTypeImage ContentBlockType = "image"
	ContentBlockTypeFile  ContentBlockType = "file"
)

// ImageSource references an image either by URL or by inline base64 data.
type ImageSource struct {
	URL       string
	MediaType string
	Data      string // base64, empty when URL is set
}

// IsURL reports whether the image is a remote reference rather than inline data.
func (s *ImageSource) IsURL() bool {
	return s.URL != "" && s.Data == ""
}

// DataURL renders inline image data as a data: URL, or returns the remote URL.
func (s *ImageSource) DataURL() string {
	if s.IsURL() {
		return s.URL
	}
	return "data:" + s.MediaType + ";base64," + s.Data
}

// FileSource is a text file attached to a prompt.
type FileSource struct {
	Name      string
	MediaType string
	Text      string
}

// Render returns the file wrapped the way it is shown to the model.
func (f *FileSource) Render() string {
	return fmt.Sprintf("<file name=%q>\n%s\n</file>", f.Name, f.Text)
}

// Schema is a caller-supplied JSON schema for structured output.
type Schema struct {
	Name       string
	Definition map[string]any
}

// CacheDirective is the request-level part of a cache augmentation.
// Block-level annotations live on ContentBlock.CacheControl.
type CacheDirective struct {
	Handle    string // pre-existing cached content handle (handle-based providers)
	Key       string // prompt cache routing key (automatic providers)
	Retention string // prompt cache retention hint (automatic providers)
}

// IsZero reports whether the directive carries nothing.
func (d CacheDirective) IsZero() bool {
	return d == CacheDirective{}
}

// Request represents a complete LLM API request.
type Request struct {
	Model       string
	Messages    []Message
	System      string
	MaxTokens   int64
	Temperature *float64 // Optional temperature override
	TopP        *float64

	// Params are passed through to the adapter untouched. Adapters pick the
	// keys their vendor understands and ignore the rest.
	Params map[string]any

	ResponseSchema *Schema
	Cache          CacheDirective
}

// Result is what an adapter hands back for one successful call.
type Result struct {
	Text         string
	Model        string // model reported by the vendor, may be empty
	FinishReason FinishReason

	// Usage is the vendor's usage object, using the vendor's own field names.
	Usage json.RawMessage

	// Raw is the untouched vendor response.
	Raw any
}

// FinishReason is the normalized reason a generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonToolUse       FinishReason = "tool_use"
	FinishReasonError         FinishReason = "error"
	FinishReasonUnknown       FinishReason = "unknown"
)

// NormalizeFinishReason maps a vendor stop reason onto the closed FinishReason set.
func NormalizeFinishReason(vendor string) FinishReason {
	switch strings.ToLower(strings.TrimSpace(vendor)) {
	case "stop", "end_turn", "stop_sequence", "eos", "finish_reason_stop":
		return FinishReasonStop
	case "length", "max_tokens", "max_output_tokens", "model_length":
		return FinishReasonLength
	case "content_filter", "safety", "refusal", "recitation", "blocklist", "prohibited_content", "spii":
		return FinishReasonContentFilter
	case "tool_use", "tool_calls", "function_call":
		return FinishReasonToolUse
	case "error", "malformed_function_call":
		return FinishReasonError
	default:
		return FinishReasonUnknown
	}
}

// ModelInfo describes a model returned by a provider's model listing.
type ModelInfo struct {
	ID      string `json:"id"`
	Created string `json:"created,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}

// NewTextMessage creates a new message with text content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{
		Role: role,
		Content: []ContentBlock{
			{
				Type: ContentBlockTypeText,
				Text: text,
			},
		},
	}
}

// Text joins the text of a message, rendering file blocks inline.
// Image blocks carry no text and are skipped.
func (m Message) Text() string {
	parts := make([]string, 0, len(m.Content))
	for _, block := range m.Content {
		switch block.Type {
		case ContentBlockTypeText:
			if block.Text != "" {
				parts = append(parts, block.Text)
			}
		case ContentBlockTypeFile:
			if block.File != nil {
				parts = append(parts, block.File.Render())
			}
		}
	}
	return strings.Join(parts, "\n\n")
}

// HasAttachments reports whether the message carries image or file blocks.
func (m Message) HasAttachments() bool {
	for _, block := range m.Content {
		if block.Type == ContentBlockTypeImage || block.Type == ContentBlockTypeFile {
			return true
		}
	}
	return false
}

// Clone returns a copy of the message whose content slice can be mutated freely.
func (m Message) Clone() Message {
	content := make([]ContentBlock, len(m.Content))
	copy(content, m.Content)
	return Message{Role: m.Role, Content: content}
}
