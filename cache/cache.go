// Package cache maps one generic "cache this" request onto each provider's
// prompt-caching mechanism.
//
// Providers fall into a closed set of classes (see llm.CacheClass). Each class
// has one translate function in a table; adding a provider means adding its
// capability entry in the llm package, not touching this code.
package cache

import (
	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// MaxBreakpoints is the most cache-control annotations one request may carry.
const MaxBreakpoints = 4

// Intent is the caller's caching request for one call. It is never stored.
type Intent struct {
	Enabled bool `json:"enabled"`

	// CacheID names a cache created ahead of time (handle-based providers).
	CacheID string `json:"cache_id,omitempty"`
	// PromptCacheKey routes requests sharing a prefix to the same cache (automatic providers).
	PromptCacheKey string `json:"prompt_cache_key,omitempty"`
	// PromptCacheRetention asks automatic providers to keep the prefix longer, e.g. "24h".
	PromptCacheRetention string `json:"prompt_cache_retention,omitempty"`
}

// BlockRef addresses one content block of a message sequence.
type BlockRef struct {
	Message int
	Block   int
}

// Augmentation is the provider-specific change to apply to a request.
// The zero value changes nothing.
type Augmentation struct {
	Class       llm.CacheClass
	Breakpoints []BlockRef
	Directive   llm.CacheDirective
}

// IsNoop reports whether applying the augmentation leaves a request unchanged.
func (a Augmentation) IsNoop() bool {
	return len(a.Breakpoints) == 0 && a.Directive.IsZero()
}

// Apply writes the augmentation into req. Messages that get annotated are
// copied first so the caller's slices are never mutated.
func (a Augmentation) Apply(req *llm.Request) {
	if len(a.Breakpoints) > 0 {
		msgs := make([]llm.Message, len(req.Messages))
		copy(msgs, req.Messages)
		cloned := make(map[int]bool)
		for _, ref := range a.Breakpoints {
			if ref.Message < 0 || ref.Message >= len(msgs) {
				continue
			}
			if !cloned[ref.Message] {
				msgs[ref.Message] = msgs[ref.Message].Clone()
				cloned[ref.Message] = true
			}
			if ref.Block < 0 || ref.Block >= len(msgs[ref.Message].Content) {
				continue
			}
			msgs[ref.Message].Content[ref.Block].CacheControl = true
		}
		req.Messages = msgs
	}
	if !a.Directive.IsZero() {
		req.Cache = a.Directive
	}
}

type translateFunc func(intent Intent, msgs []llm.Message) Augmentation

// Translator dispatches on the provider's cache class.
type Translator struct {
	classes map[llm.CacheClass]translateFunc
	logger  zerolog.Logger
}

// NewTranslator creates a translator with the built-in class table.
func NewTranslator(logger zerolog.Logger) *Translator {
	return &Translator{
		classes: map[llm.CacheClass]translateFunc{
			llm.CacheAutomatic:          translateAutomatic,
			llm.CacheExplicitAnnotation: translateExplicit,
			llm.CacheHandleBased:        translateHandle,
			llm.CacheUnsupported:        translateUnsupported,
		},
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Translate computes the augmentation for provider. It never fails: unknown
// providers and unsupported classes get a no-op.
func (t *Translator) Translate(intent Intent, provider string, msgs []llm.Message) Augmentation {
	class := llm.CacheClassOf(provider)
	fn, ok := t.classes[class]
	if !ok {
		fn = translateUnsupported
	}
	aug := fn(intent, msgs)
	aug.Class = class

	if intent.Enabled {
		t.logger.Debug().
			Str("provider", provider).
			Str("class", string(class)).
			Int("breakpoints", len(aug.Breakpoints)).
			Bool("handle", aug.Directive.Handle != "").
			Msg("Cache intent translated")
	}
	return aug
}

// Automatic providers cache on their own. The flag changes nothing; routing
// hints are forwarded because they refine the vendor's own caching.
func translateAutomatic(intent Intent, _ []llm.Message) Augmentation {
	return Augmentation{
		Directive: llm.CacheDirective{
			Key:       intent.PromptCacheKey,
			Retention: intent.PromptCacheRetention,
		},
	}
}

// Explicit-annotation providers cache the prefix up to each marked block.
// Attachments of the newest user message are marked, newest last, up to
// MaxBreakpoints.
func translateExplicit(intent Intent, msgs []llm.Message) Augmentation {
	if !intent.Enabled || len(msgs) == 0 {
		return Augmentation{}
	}
	idx, ok := lastUserMessage(msgs)
	if !ok {
		return Augmentation{}
	}

	refs := lo.FilterMap(msgs[idx].Content, func(block llm.ContentBlock, i int) (BlockRef, bool) {
		isAttachment := block.Type == llm.ContentBlockTypeFile || block.Type == llm.ContentBlockTypeImage
		return BlockRef{Message: idx, Block: i}, isAttachment
	})
	if len(refs) > MaxBreakpoints {
		refs = refs[len(refs)-MaxBreakpoints:]
	}
	if len(refs) == 0 {
		return Augmentation{}
	}
	return Augmentation{Breakpoints: refs}
}

// Handle-based providers can only point at a cache that already exists.
func translateHandle(intent Intent, _ []llm.Message) Augmentation {
	if !intent.Enabled || intent.CacheID == "" {
		return Augmentation{}
	}
	return Augmentation{Directive: llm.CacheDirective{Handle: intent.CacheID}}
}

func translateUnsupported(Intent, []llm.Message) Augmentation {
	return Augmentation{}
}

func lastUserMessage(msgs []llm.Message) (int, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleUser {
			return i, true
		}
	}
	return 0, false
}
