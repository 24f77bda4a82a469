// Package conversations gives stateless provider APIs a multi-turn memory.
//
// A Store maps a conversation id to its ordered turns. Append is the only
// mutator; the orchestrator calls it once per successful call with the
// prompt turn and the reply turn.
package conversations

import (
	"context"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/google/uuid"
)

// DefaultMaxTurns bounds a conversation's length. Oldest turns are dropped
// in prompt/reply pairs once the cap is reached.
const DefaultMaxTurns = 200

// Turn is one message of a conversation.
type Turn struct {
	Role    llm.MessageRole `json:"role"`
	Content string          `json:"content"`

	// Provider and Model are set on reply turns.
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// Store is a keyed mapping from conversation id to ordered turns.
type Store interface {
	// Append adds the turn pair to conversationID, minting a new id when it is
	// empty, and returns the id the turns were stored under.
	Append(ctx context.Context, conversationID string, prompt, reply Turn) (string, error)

	// History returns the turns of conversationID in call order. An unknown id
	// yields an empty slice, not an error.
	History(ctx context.Context, conversationID string) ([]Turn, error)

	// Clear forgets conversationID. Clearing an unknown id is not an error.
	Clear(ctx context.Context, conversationID string) error
}

// Pruner removes conversations that have been idle for longer than a TTL.
type Pruner interface {
	Prune(ctx context.Context, idleFor time.Duration) (int, error)
}

// NewID mints a conversation id.
func NewID() string {
	return uuid.NewString()
}

// ToMessages converts turns to neutral messages for a request.
func ToMessages(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		msgs = append(msgs, llm.NewTextMessage(turn.Role, turn.Content))
	}
	return msgs
}

// MinMaxTurns is the smallest usable cap: one prompt/reply pair.
const MinMaxTurns = 2

// trimmed returns how many leading turns to drop so that n turns fit in
// maxTurns, rounded up to whole pairs. The newest pair is never dropped.
// maxTurns <= 0 disables the cap.
func trimmed(n, maxTurns int) int {
	if maxTurns <= 0 || n <= maxTurns {
		return 0
	}
	drop := n - maxTurns
	if drop%2 == 1 {
		drop++
	}
	if drop > n-MinMaxTurns {
		drop = n - MinMaxTurns
	}
	if drop < 0 {
		drop = 0
	}
	return drop
}
