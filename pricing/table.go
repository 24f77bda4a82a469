// Package pricing holds per-model token rates and turns token counts into cost.
//
// A pricing document is keyed by calendar date, then provider, then model:
//
//	{
//	  "2025-01-15": {
//	    "openai": {
//	      "gpt-4o": {"input_price_per_million": 2.5, "output_price_per_million": 10.0}
//	    }
//	  }
//	}
//
// A lookup picks the most recent date not after "now" that has an entry for the
// exact (provider, model) pair. There is no fuzzy matching across models.
package pricing

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// DateLayout is the layout of the date keys in a pricing document.
const DateLayout = "2006-01-02"

//go:embed default_pricing.json
var defaultPricing []byte

// Rates are the per-million-token prices for one model.
type Rates struct {
	InputPricePerMillion  float64 `json:"input_price_per_million"`
	OutputPricePerMillion float64 `json:"output_price_per_million"`
}

type document map[string]map[string]map[string]Rates

type day struct {
	date   time.Time
	prices map[string]map[string]Rates
}

// Table is an immutable, parsed pricing document.
type Table struct {
	days []day // newest first
}

// Parse parses a pricing document.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pricing document: %w", err)
	}
	return newTable(doc)
}

// LoadFile reads and parses a pricing document from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pricing file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// DefaultTable returns the pricing table compiled into the binary.
func DefaultTable() *Table {
	t, err := Parse(defaultPricing)
	if err != nil {
		panic(fmt.Sprintf("embedded pricing table is invalid: %v", err))
	}
	return t
}

func newTable(doc document) (*Table, error) {
	t := &Table{days: make([]day, 0, len(doc))}
	for key, providers := range doc {
		date, err := time.Parse(DateLayout, key)
		if err != nil {
			return nil, fmt.Errorf("invalid date key %q: %w", key, err)
		}
		for provider, models := range providers {
			for model, r := range models {
				if r.InputPricePerMillion < 0 || r.OutputPricePerMillion < 0 {
					return nil, fmt.Errorf("%s/%s/%s: negative price", key, provider, model)
				}
			}
		}
		t.days = append(t.days, day{date: date, prices: providers})
	}
	sort.Slice(t.days, func(i, j int) bool {
		return t.days[i].date.After(t.days[j].date)
	})
	return t, nil
}

// Lookup returns the rates in effect at time at for the exact (provider, model)
// pair, and the date of the entry they came from.
func (t *Table) Lookup(provider, model string, at time.Time) (Rates, time.Time, bool) {
	if t == nil {
		return Rates{}, time.Time{}, false
	}
	y, m, d := at.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for _, dd := range t.days {
		if dd.date.After(today) {
			continue
		}
		if r, ok := dd.prices[provider][model]; ok {
			return r, dd.date, true
		}
	}
	return Rates{}, time.Time{}, false
}

// Entry is one row of a flattened table.
type Entry struct {
	Date     time.Time
	Provider string
	Model    string
	Rates    Rates
}

// Entries returns every row of the table, newest date first, then by provider and model.
func (t *Table) Entries() []Entry {
	if t == nil {
		return nil
	}
	var out []Entry
	for _, dd := range t.days {
		start := len(out)
		for provider, models := range dd.prices {
			for model, r := range models {
				out = append(out, Entry{Date: dd.date, Provider: provider, Model: model, Rates: r})
			}
		}
		rows := out[start:]
		sort.Slice(rows, func(i, j int) bool {
			if rows[i].Provider != rows[j].Provider {
				return rows[i].Provider < rows[j].Provider
			}
			return rows[i].Model < rows[j].Model
		})
	}
	return out
}
