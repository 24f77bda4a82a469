package conversations

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type memoryConversation struct {
	turns     []Turn
	updatedAt time.Time
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*memoryConversation
	maxTurns      int
	now           func() time.Time
	newID         func() string
	logger        zerolog.Logger
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxTurns caps each conversation at n turns. Zero disables the cap.
func WithMaxTurns(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxTurns = n
	}
}

// WithClock overrides the clock used for idle tracking.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// WithIDGenerator overrides how new conversation ids are minted.
func WithIDGenerator(fn func() string) MemoryOption {
	return func(s *MemoryStore) {
		s.newID = fn
	}
}

// NewMemoryStore creates an empty in-memory store capped at DefaultMaxTurns.
func NewMemoryStore(logger zerolog.Logger, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		conversations: make(map[string]*memoryConversation),
		maxTurns:      DefaultMaxTurns,
		now:           time.Now,
		newID:         NewID,
		logger:        logger.With().Str("component", "conversations").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append implements Store.
func (s *MemoryStore) Append(ctx context.Context, conversationID string, prompt, reply Turn) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID == "" {
		conversationID = s.newID()
	}
	conv, ok := s.conversations[conversationID]
	if !ok {
		conv = &memoryConversation{}
		s.conversations[conversationID] = conv
	}
	conv.turns = append(conv.turns, prompt, reply)
	conv.updatedAt = s.now()

	if drop := trimmed(len(conv.turns), s.maxTurns); drop > 0 {
		conv.turns = append([]Turn(nil), conv.turns[drop:]...)
		s.logger.Debug().
			Str("conversation_id", conversationID).
			Int("dropped", drop).
			Int("max_turns", s.maxTurns).
			Msg("Conversation trimmed")
	}

	return conversationID, nil
}

// History implements Store. The returned slice is a copy.
func (s *MemoryStore) History(ctx context.Context, conversationID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return []Turn{}, nil
	}
	out := make([]Turn, len(conv.turns))
	copy(out, conv.turns)
	return out, nil
}

// Clear implements Store.
func (s *MemoryStore) Clear(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}

// Prune implements Pruner.
func (s *MemoryStore) Prune(ctx context.Context, idleFor time.Duration) (int, error) {
	cutoff := s.now().Add(-idleFor)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, conv := range s.conversations {
		if conv.updatedAt.Before(cutoff) {
			delete(s.conversations, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live conversations.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations)
}
