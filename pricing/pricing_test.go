package pricing

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testDoc = `{
  "2025-01-01": {
    "openai": {
      "gpt-4o": {"input_price_per_million": 5.0, "output_price_per_million": 15.0},
      "gpt-4o-mini": {"input_price_per_million": 0.15, "output_price_per_million": 0.6}
    }
  },
  "2025-03-01": {
    "openai": {
      "gpt-4o": {"input_price_per_million": 2.5, "output_price_per_million": 10.0}
    }
  },
  "2025-12-01": {
    "openai": {
      "gpt-4o": {"input_price_per_million": 1.0, "output_price_per_million": 4.0}
    }
  }
}`

func mustParse(t *testing.T, doc string) *Table {
	t.Helper()
	table, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return table
}

func date(s string) time.Time {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestTable_Lookup(t *testing.T) {
	table := mustParse(t, testDoc)

	tests := []struct {
		name     string
		provider string
		model    string
		at       time.Time
		want     Rates
		wantDate string
		wantOK   bool
	}{
		{
			name: "most recent date not after now", provider: "openai", model: "gpt-4o",
			at:   date("2025-06-15"),
			want: Rates{2.5, 10.0}, wantDate: "2025-03-01", wantOK: true,
		},
		{
			name: "entry dated today applies", provider: "openai", model: "gpt-4o",
			at:   date("2025-12-01").Add(15 * time.Hour),
			want: Rates{1.0, 4.0}, wantDate: "2025-12-01", wantOK: true,
		},
		{
			name: "falls back to older date holding the pair", provider: "openai", model: "gpt-4o-mini",
			at:   date("2025-12-31"),
			want: Rates{0.15, 0.6}, wantDate: "2025-01-01", wantOK: true,
		},
		{
			name: "before any date", provider: "openai", model: "gpt-4o",
			at: date("2024-12-31"),
		},
		{
			name: "no fuzzy model match", provider: "openai", model: "gpt-4o-2024-08-06",
			at: date("2025-06-15"),
		},
		{
			name: "unknown provider", provider: "anthropic", model: "gpt-4o",
			at: date("2025-06-15"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotDate, ok := table.Lookup(tt.provider, tt.model, tt.at)
			if ok != tt.wantOK {
				t.Fatalf("Lookup() ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if got != tt.want {
				t.Errorf("Lookup() = %+v, want %+v", got, tt.want)
			}
			if gotDate.Format(DateLayout) != tt.wantDate {
				t.Errorf("Lookup() date = %s, want %s", gotDate.Format(DateLayout), tt.wantDate)
			}
		})
	}

	var nilTable *Table
	if _, _, ok := nilTable.Lookup("openai", "gpt-4o", time.Now()); ok {
		t.Error("nil table should never resolve")
	}
}

func TestParse_Errors(t *testing.T) {
	bad := map[string]string{
		"not json":       `{`,
		"bad date":       `{"yesterday": {}}`,
		"negative price": `{"2025-01-01": {"x": {"y": {"input_price_per_million": -1, "output_price_per_million": 1}}}}`,
	}
	for name, doc := range bad {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestTable_Entries(t *testing.T) {
	entries := mustParse(t, testDoc).Entries()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	if entries[0].Date.Format(DateLayout) != "2025-12-01" {
		t.Errorf("expected newest first, got %s", entries[0].Date.Format(DateLayout))
	}
	last := entries[len(entries)-1]
	if last.Model != "gpt-4o-mini" {
		t.Errorf("expected models sorted within a date, got %s last", last.Model)
	}
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	if _, _, ok := table.Lookup("openai", "gpt-4o", date("2025-06-01")); !ok {
		t.Error("default table should price gpt-4o")
	}
}

func newTestResolver(t *testing.T, at string) *Resolver {
	t.Helper()
	return NewResolver(zerolog.Nop(),
		WithTable(mustParse(t, testDoc)),
		WithClock(func() time.Time { return date(at) }),
	)
}

func TestResolver_Cost(t *testing.T) {
	r := newTestResolver(t, "2025-06-15")

	in, out := int64(100), int64(20)
	c, ok := r.Cost("openai", "gpt-4o", &in, &out)
	if !ok {
		t.Fatal("expected pricing to be found")
	}
	if c.Input == nil || math.Abs(*c.Input-0.00025) > 1e-12 {
		t.Errorf("input cost = %v, want 0.00025", c.Input)
	}
	if c.Output == nil || math.Abs(*c.Output-0.0002) > 1e-12 {
		t.Errorf("output cost = %v, want 0.0002", c.Output)
	}
	if c.Estimated == nil || math.Abs(*c.Estimated-(*c.Input+*c.Output)) > 1e-9 {
		t.Errorf("estimated cost = %v, want sum of parts", c.Estimated)
	}

	c, ok = r.Cost("openai", "gpt-4o", &in, nil)
	if !ok {
		t.Fatal("expected pricing to be found")
	}
	if c.Input == nil || c.Output != nil || c.Estimated != nil {
		t.Errorf("missing output count should leave output and estimate unknown, got %+v", c)
	}

	zero := int64(0)
	c, _ = r.Cost("openai", "gpt-4o", &zero, &zero)
	if c.Estimated == nil || *c.Estimated != 0 {
		t.Errorf("zero tokens should cost exactly zero, got %v", c.Estimated)
	}

	if _, ok := r.Cost("openai", "unknown-model", &in, &out); ok {
		t.Error("unknown model should not be priced")
	}
}

func TestResolver_NoTable(t *testing.T) {
	r := NewResolver(zerolog.Nop())
	in := int64(1)
	if _, ok := r.Cost("openai", "gpt-4o", &in, &in); ok {
		t.Error("resolver without a table should not price anything")
	}
}

func TestResolver_Require(t *testing.T) {
	r := newTestResolver(t, "2025-06-15")

	rates, effective, err := r.Require("openai", "gpt-4o")
	if err != nil {
		t.Fatalf("Require() error = %v", err)
	}
	if rates.InputPricePerMillion != 2.5 || !effective.Equal(date("2025-03-01")) {
		t.Errorf("Require() = %+v @ %s", rates, effective)
	}

	if _, _, err := r.Require("openai", "gpt-5-imaginary"); !errors.Is(err, ErrPricingUnavailable) {
		t.Errorf("Require() error = %v, want ErrPricingUnavailable", err)
	}
}

func TestResolver_SetPricingFile(t *testing.T) {
	r := newTestResolver(t, "2025-06-15")

	path := filepath.Join(t.TempDir(), "pricing.json")
	doc := `{"2025-01-01": {"mistral": {"mistral-small-latest": {"input_price_per_million": 0.1, "output_price_per_million": 0.3}}}}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	if err := r.SetPricingFile(path); err != nil {
		t.Fatalf("SetPricingFile() error = %v", err)
	}
	if _, ok := r.Lookup("mistral", "mistral-small-latest"); !ok {
		t.Error("new table should be in effect")
	}
	if _, ok := r.Lookup("openai", "gpt-4o"); ok {
		t.Error("old table should be replaced, not merged")
	}

	if err := r.SetPricingFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, ok := r.Lookup("mistral", "mistral-small-latest"); !ok {
		t.Error("failed load must keep the previous table")
	}
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.json")
	if err := os.WriteFile(path, []byte(testDoc), 0644); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(t, "2025-06-15")
	w := NewWatcher(r, path, zerolog.Nop())
	w.debounce = 10 * time.Millisecond
	w.reloaded = make(chan error, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	doc := `{"2025-01-01": {"openai": {"gpt-4o": {"input_price_per_million": 9.0, "output_price_per_million": 9.0}}}}`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-w.reloaded:
			if rates, ok := r.Lookup("openai", "gpt-4o"); ok && rates.InputPricePerMillion == 9.0 {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
