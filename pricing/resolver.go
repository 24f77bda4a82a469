package pricing

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrPricingUnavailable reports that no rate is known for a pair. Prompts
// never surface it; a missing rate only leaves the cost fields absent.
var ErrPricingUnavailable = errors.New("pricing unavailable")

// Cost is the computed cost of one call. A nil field means unknown.
type Cost struct {
	Input     *float64
	Output    *float64
	Estimated *float64
}

// Resolver answers pricing lookups against a swappable Table.
// Swapping the table affects every lookup that starts afterwards; lookups
// already in progress keep the table they started with.
type Resolver struct {
	table  atomic.Pointer[Table]
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used to pick the effective date.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithTable sets the initial table.
func WithTable(t *Table) Option {
	return func(r *Resolver) {
		r.table.Store(t)
	}
}

// NewResolver creates a resolver. Without WithTable it starts with no pricing,
// so every cost is unknown until a table is injected.
func NewResolver(logger zerolog.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		now:    time.Now,
		logger: logger.With().Str("component", "pricing").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetTable replaces the pricing table for all subsequent lookups.
func (r *Resolver) SetTable(t *Table) {
	r.table.Store(t)
}

// SetPricingFile loads path and makes it the active table. On error the
// previous table stays in effect.
func (r *Resolver) SetPricingFile(path string) error {
	t, err := LoadFile(path)
	if err != nil {
		return err
	}
	r.table.Store(t)
	r.logger.Info().Str("path", path).Int("entries", len(t.Entries())).Msg("Pricing table loaded")
	return nil
}

// Table returns the active table, or nil.
func (r *Resolver) Table() *Table {
	return r.table.Load()
}

// Lookup returns the rates in effect now for the exact (provider, model) pair.
func (r *Resolver) Lookup(provider, model string) (Rates, bool) {
	rates, _, ok := r.table.Load().Lookup(provider, model, r.now())
	return rates, ok
}

// Require is Lookup for callers that want an error, such as the CLI.
func (r *Resolver) Require(provider, model string) (Rates, time.Time, error) {
	rates, effective, ok := r.table.Load().Lookup(provider, model, r.now())
	if !ok {
		return Rates{}, time.Time{}, fmt.Errorf("%s/%s: %w", provider, model, ErrPricingUnavailable)
	}
	return rates, effective, nil
}

// Cost prices the given token counts. ok is false when no rates are known.
// A nil token count leaves the matching cost nil; the estimate is only set
// when both sides are known, so it is always their sum.
func (r *Resolver) Cost(provider, model string, inputTokens, outputTokens *int64) (Cost, bool) {
	rates, ok := r.Lookup(provider, model)
	if !ok {
		r.logger.Debug().Str("provider", provider).Str("model", model).Msg("No pricing entry")
		return Cost{}, false
	}

	var c Cost
	if inputTokens != nil {
		v := float64(*inputTokens) / 1_000_000 * rates.InputPricePerMillion
		c.Input = &v
	}
	if outputTokens != nil {
		v := float64(*outputTokens) / 1_000_000 * rates.OutputPricePerMillion
		c.Output = &v
	}
	if c.Input != nil && c.Output != nil {
		v := *c.Input + *c.Output
		c.Estimated = &v
	}

	if c.Estimated != nil {
		r.logger.Debug().
			Str("provider", provider).
			Str("model", model).
			Float64("cost_usd", *c.Estimated).
			Msg("Priced call")
	}
	return c, true
}
