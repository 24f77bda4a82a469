package client

import (
	"encoding/json"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/aschepis/backscratcher/genllm/usage"
)

// Response is the normalized outcome of one successful call.
type Response struct {
	Text         string           `json:"text"`
	Model        string           `json:"model"`
	Provider     string           `json:"provider"`
	FinishReason llm.FinishReason `json:"finish_reason"`
	Timestamp    time.Time        `json:"timestamp"`

	// Duration is wall clock time across all attempts and backoff waits.
	Duration time.Duration `json:"-"`
	Usage    usage.Usage   `json:"usage"`

	// ConversationID is empty for stateless calls.
	ConversationID string `json:"conversation_id,omitempty"`
	Attempts       int    `json:"attempts"`

	// Raw is the vendor response. It is never serialized.
	Raw any `json:"-"`
}

// MarshalJSON writes the duration in seconds and leaves out the raw response.
func (r Response) MarshalJSON() ([]byte, error) {
	type plain Response
	return json.Marshal(struct {
		plain
		DurationSeconds float64 `json:"duration_seconds"`
	}{
		plain:           plain(r),
		DurationSeconds: r.Duration.Seconds(),
	})
}

// String returns the reply text.
func (r *Response) String() string {
	return r.Text
}
