// Package usage reconciles the token and cost fields reported by different
// vendors into one Usage record.
//
// Every field is a pointer: nil means the vendor did not report it (or, for
// costs, that no pricing was known), which is different from a reported zero.
package usage

import (
	"math"
)

// Usage is the normalized token and cost record for one call.
//
// CachedTokens is a subset of InputTokens (OpenAI, Gemini accounting).
// CacheReadTokens and CacheCreationTokens are reported alongside InputTokens
// and are not included in it (Anthropic accounting).
type Usage struct {
	InputTokens         *int64 `json:"input_tokens,omitempty"`
	OutputTokens        *int64 `json:"output_tokens,omitempty"`
	TotalTokens         *int64 `json:"total_tokens,omitempty"`
	CachedTokens        *int64 `json:"cached_tokens,omitempty"`
	CacheCreationTokens *int64 `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     *int64 `json:"cache_read_tokens,omitempty"`

	InputCostUSD     *float64 `json:"input_cost_usd,omitempty"`
	OutputCostUSD    *float64 `json:"output_cost_usd,omitempty"`
	EstimatedCostUSD *float64 `json:"estimated_cost_usd,omitempty"`
}

// HasCost reports whether any cost is known.
func (u Usage) HasCost() bool {
	return u.EstimatedCostUSD != nil || u.InputCostUSD != nil || u.OutputCostUSD != nil
}

// CacheSavings returns the fraction of tokens served from cache, in [0,1].
// It is 0 when no cache field was reported.
func (u Usage) CacheSavings() float64 {
	var served, denom int64
	switch {
	case u.CachedTokens != nil:
		served = *u.CachedTokens
		denom = value(u.TotalTokens)
		if denom == 0 {
			denom = value(u.InputTokens)
		}
	case u.CacheReadTokens != nil || u.CacheCreationTokens != nil:
		served = value(u.CacheReadTokens)
		denom = value(u.TotalTokens)
		if u.TotalTokens == nil {
			denom = value(u.InputTokens) + value(u.OutputTokens)
		}
		denom += served + value(u.CacheCreationTokens)
	default:
		return 0
	}
	if served <= 0 || denom <= 0 {
		return 0
	}
	return math.Min(1, float64(served)/float64(denom))
}

func value(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Float64 returns a pointer to v.
func Float64(v float64) *float64 { return &v }
