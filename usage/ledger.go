package usage

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger accumulates usage across many calls. Costs are summed as decimals
// so long-running totals do not drift the way repeated float addition does.
type Ledger struct {
	mu      sync.Mutex
	entries map[ledgerKey]*Totals
}

type ledgerKey struct {
	provider string
	model    string
}

// Totals is the accumulated usage for one (provider, model) pair, or overall.
type Totals struct {
	Provider     string          `json:"provider,omitempty"`
	Model        string          `json:"model,omitempty"`
	Calls        int64           `json:"calls"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	CachedTokens int64           `json:"cached_tokens"`
	CostUSD      decimal.Decimal `json:"cost_usd"`

	// UnpricedCalls counts calls whose cost was unknown and therefore not in CostUSD.
	UnpricedCalls int64 `json:"unpriced_calls"`
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[ledgerKey]*Totals)}
}

// Add records one call.
func (l *Ledger) Add(provider, model string, u Usage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey{provider: provider, model: model}
	t, ok := l.entries[key]
	if !ok {
		t = &Totals{Provider: provider, Model: model}
		l.entries[key] = t
	}
	t.add(u)
}

func (t *Totals) add(u Usage) {
	t.Calls++
	t.InputTokens += value(u.InputTokens)
	t.OutputTokens += value(u.OutputTokens)
	t.CachedTokens += value(u.CachedTokens) + value(u.CacheReadTokens)
	if u.EstimatedCostUSD != nil {
		t.CostUSD = t.CostUSD.Add(decimal.NewFromFloat(*u.EstimatedCostUSD))
	} else {
		t.UnpricedCalls++
	}
}

func (t *Totals) merge(o *Totals) {
	t.Calls += o.Calls
	t.InputTokens += o.InputTokens
	t.OutputTokens += o.OutputTokens
	t.CachedTokens += o.CachedTokens
	t.CostUSD = t.CostUSD.Add(o.CostUSD)
	t.UnpricedCalls += o.UnpricedCalls
}

// Total returns the sum across every provider and model.
func (l *Ledger) Total() Totals {
	l.mu.Lock()
	defer l.mu.Unlock()

	var total Totals
	for _, t := range l.entries {
		total.merge(t)
	}
	return total
}

// Breakdown returns per (provider, model) totals sorted by provider then model.
func (l *Ledger) Breakdown() []Totals {
	l.mu.Lock()
	out := make([]Totals, 0, len(l.entries))
	for _, t := range l.entries {
		out = append(out, *t)
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Model < out[j].Model
	})
	return out
}
