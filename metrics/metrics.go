// Package metrics exposes Prometheus collectors for prompt calls.
//
// A nil *Collector is valid and records nothing, so callers never need to
// check whether metrics are enabled.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/aschepis/backscratcher/genllm/usage"
	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "genllm"

// Request outcomes used as the status label.
const (
	StatusSuccess  = "success"
	StatusCanceled = "canceled"
)

// Collector holds the registered metric vectors.
type Collector struct {
	registry prometheus.Registerer

	requests   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	attempts   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	tokens     *prometheus.CounterVec
	cost       *prometheus.CounterVec
	unpriced   *prometheus.CounterVec
	cacheRatio *prometheus.HistogramVec
}

// NewCollector creates the collectors and registers them with registry.
// A nil registry gets a fresh prometheus.Registry.
func NewCollector(namespace string, registry prometheus.Registerer) (*Collector, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Prompt calls by provider, model and outcome",
		}, []string{"provider", "model", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Wall clock duration of prompt calls including retries",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),
		attempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_attempts",
			Help:      "Adapter invocations per prompt call",
			Buckets:   []float64{1, 2, 3, 5, 8},
		}, []string{"provider"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Backoff waits by provider and error kind",
		}, []string{"provider", "kind"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens by provider, model and direction",
		}, []string{"provider", "model", "type"}),
		cost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_usd_total",
			Help:      "Estimated or reported cost in USD",
		}, []string{"provider", "model"}),
		unpriced: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unpriced_requests_total",
			Help:      "Successful calls with no known cost",
		}, []string{"provider", "model"}),
		cacheRatio: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cache_savings_ratio",
			Help:      "Fraction of tokens served from the prompt cache",
			Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
		}, []string{"provider"}),
	}

	for _, col := range []prometheus.Collector{
		c.requests, c.duration, c.attempts, c.retries,
		c.tokens, c.cost, c.unpriced, c.cacheRatio,
	} {
		if err := registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Registry returns the registerer the collectors were added to.
func (c *Collector) Registry() prometheus.Registerer {
	if c == nil {
		return nil
	}
	return c.registry
}

// ObserveRequest records one finished prompt call. err is nil on success.
func (c *Collector) ObserveRequest(provider, model string, d time.Duration, attempts int, err error) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(provider, model, Status(err)).Inc()
	c.duration.WithLabelValues(provider, model).Observe(d.Seconds())
	if attempts > 0 {
		c.attempts.WithLabelValues(provider).Observe(float64(attempts))
	}
}

// ObserveRetry records one backoff wait before attempt+1.
func (c *Collector) ObserveRetry(provider string, err error) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(provider, string(llm.KindOf(err))).Inc()
}

// ObserveUsage records the token counts and cost of one successful call.
func (c *Collector) ObserveUsage(provider, model string, u usage.Usage) {
	if c == nil {
		return
	}
	if u.InputTokens != nil {
		c.tokens.WithLabelValues(provider, model, "input").Add(float64(*u.InputTokens))
	}
	if u.OutputTokens != nil {
		c.tokens.WithLabelValues(provider, model, "output").Add(float64(*u.OutputTokens))
	}
	cached := int64(0)
	if u.CachedTokens != nil {
		cached += *u.CachedTokens
	}
	if u.CacheReadTokens != nil {
		cached += *u.CacheReadTokens
	}
	if cached > 0 {
		c.tokens.WithLabelValues(provider, model, "cached").Add(float64(cached))
	}

	if u.EstimatedCostUSD != nil {
		if *u.EstimatedCostUSD > 0 {
			c.cost.WithLabelValues(provider, model).Add(*u.EstimatedCostUSD)
		}
	} else {
		c.unpriced.WithLabelValues(provider, model).Inc()
	}
	c.cacheRatio.WithLabelValues(provider).Observe(u.CacheSavings())
}

// Status maps a call outcome onto the status label.
func Status(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	}
	return string(llm.KindOf(err))
}
