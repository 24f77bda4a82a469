package usage

import (
	"encoding/json"

	"github.com/aschepis/backscratcher/genllm/pricing"
	"github.com/tidwall/gjson"
)

// Pricer computes cost for a (provider, model) pair. ok is false when no
// pricing is known.
type Pricer interface {
	Cost(provider, model string, inputTokens, outputTokens *int64) (cost pricing.Cost, ok bool)
}

// Vendor field names for each normalized field, in lookup order.
var (
	inputPaths = []string{
		"input_tokens",
		"prompt_tokens",
		"prompt_token_count",
		"promptTokenCount",
		"prompt_eval_count",
	}
	outputPaths = []string{
		"output_tokens",
		"completion_tokens",
		"candidates_token_count",
		"candidatesTokenCount",
		"eval_count",
	}
	totalPaths = []string{
		"total_tokens",
		"total_token_count",
		"totalTokenCount",
	}
	cachedPaths = []string{
		"cached_tokens",
		"prompt_tokens_details.cached_tokens",
		"input_tokens_details.cached_tokens",
		"cached_content_token_count",
		"cachedContentTokenCount",
		"prompt_cache_hit_tokens",
	}
	cacheCreationPaths = []string{
		"cache_creation_input_tokens",
		"cache_creation_tokens",
	}
	cacheReadPaths = []string{
		"cache_read_input_tokens",
		"cache_read_tokens",
	}
	actualCostPaths = []string{
		"cost",
		"total_cost",
	}
)

// Normalize builds a Usage from a vendor usage object. Fields the vendor did
// not report stay nil. pricer may be nil, in which case no cost is attached
// unless the vendor reported an actual cost.
func Normalize(raw json.RawMessage, provider, model string, pricer Pricer) Usage {
	var u Usage
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return u
	}
	doc := gjson.ParseBytes(raw)

	u.InputTokens = firstInt(doc, inputPaths)
	u.OutputTokens = firstInt(doc, outputPaths)
	u.TotalTokens = firstInt(doc, totalPaths)
	if u.TotalTokens == nil && u.InputTokens != nil && u.OutputTokens != nil {
		u.TotalTokens = Int64(*u.InputTokens + *u.OutputTokens)
	}
	u.CachedTokens = firstInt(doc, cachedPaths)
	u.CacheCreationTokens = firstInt(doc, cacheCreationPaths)
	u.CacheReadTokens = firstInt(doc, cacheReadPaths)

	// A cost reported by the provider is authoritative and replaces the estimate.
	if actual := firstFloat(doc, actualCostPaths); actual != nil {
		u.EstimatedCostUSD = actual
		return u
	}

	if pricer == nil {
		return u
	}
	if cost, ok := pricer.Cost(provider, model, u.InputTokens, u.OutputTokens); ok {
		u.InputCostUSD = cost.Input
		u.OutputCostUSD = cost.Output
		u.EstimatedCostUSD = cost.Estimated
	}
	return u
}

func firstInt(doc gjson.Result, paths []string) *int64 {
	for _, p := range paths {
		r := doc.Get(p)
		if r.Type == gjson.Number {
			return Int64(r.Int())
		}
	}
	return nil
}

func firstFloat(doc gjson.Result, paths []string) *float64 {
	for _, p := range paths {
		r := doc.Get(p)
		if r.Type == gjson.Number {
			return Float64(r.Float())
		}
	}
	return nil
}
