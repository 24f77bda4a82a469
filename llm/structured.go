package llm

import (
	"encoding/json"
	"strings"
)

// StructuredToolName is the forced tool used by providers that only offer
// structured output through tool calls.
const StructuredToolName = "extract_structured_data"

// StripCodeFence unwraps JSON a model returned inside a markdown code fence.
// Text that is not fenced is returned trimmed but otherwise untouched.
func StripCodeFence(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// drop the info string, e.g. "json"
		if !strings.ContainsAny(s[:nl], "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// SchemaJSON returns the schema definition as JSON, or nil when there is none.
func (s *Schema) SchemaJSON() json.RawMessage {
	if s == nil || s.Definition == nil {
		return nil
	}
	data, err := json.Marshal(s.Definition)
	if err != nil {
		return nil
	}
	return data
}

// NameOr returns the schema name, or fallback when it is unnamed.
func (s *Schema) NameOr(fallback string) string {
	if s == nil || s.Name == "" {
		return fallback
	}
	return s.Name
}
