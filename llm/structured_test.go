package llm

import "testing"

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"padded", "  {\"a\":1}\n", `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n[1,2]\n```", `[1,2]`},
		{"inline fence", "```{\"a\":1}```", `{"a":1}`},
		{"prose", "not json", "not json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripCodeFence(tt.in); got != tt.want {
				t.Errorf("StripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSchemaHelpers(t *testing.T) {
	var nilSchema *Schema
	if nilSchema.SchemaJSON() != nil {
		t.Error("nil schema should have no JSON")
	}
	if got := nilSchema.NameOr("response"); got != "response" {
		t.Errorf("NameOr() = %q", got)
	}

	s := &Schema{Name: "person", Definition: map[string]any{"type": "object"}}
	if got := string(s.SchemaJSON()); got != `{"type":"object"}` {
		t.Errorf("SchemaJSON() = %s", got)
	}
	if got := s.NameOr("response"); got != "person" {
		t.Errorf("NameOr() = %q", got)
	}
}
