// Package retry decides whether a failed provider call is attempted again and
// how long to wait first.
//
// The policy only looks at the classification carried by *llm.Error:
// rate-limited and transient errors are retried with exponential backoff,
// everything else fails on the first attempt. A retry-after hint on the error
// replaces the computed delay for that attempt.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	genctx "github.com/aschepis/backscratcher/genllm/context"
)

const (
	// DefaultMaxAttempts includes the first attempt.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the delay after the first failed attempt.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps the computed delay. Retry-after hints are not capped.
	DefaultMaxDelay = 60 * time.Second
)

// Policy is the retry budget and backoff curve.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means uncapped
}

// DefaultPolicy returns 3 attempts with a 1s base delay capped at 60s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Delay returns the computed delay after the failure of 0-indexed attempt n:
// BaseDelay * 2^n, capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Decision is the outcome of classifying one failure.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide classifies err raised by 0-indexed attempt n.
func (p Policy) Decide(err error, n int) Decision {
	if err == nil || !llm.IsRetryableError(err) {
		return Decision{}
	}
	if n+1 >= p.maxAttempts() {
		return Decision{}
	}
	if hint := llm.ExtractRetryAfter(err); hint != nil {
		return Decision{Retry: true, Delay: *hint}
	}
	return Decision{Retry: true, Delay: p.Delay(n)}
}

// Retrier runs operations under a Policy.
type Retrier struct {
	policy  Policy
	logger  zerolog.Logger
	timer   backoff.Timer
	onRetry func(attempt int, delay time.Duration, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithTimer replaces the timer used for backoff waits. The timer is shared by
// every Do call, so it is only suitable for tests that do not call Do concurrently.
func WithTimer(t backoff.Timer) Option {
	return func(r *Retrier) {
		r.timer = t
	}
}

// WithOnRetry registers a hook called before every backoff wait.
func WithOnRetry(fn func(attempt int, delay time.Duration, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a Retrier.
func New(policy Policy, logger zerolog.Logger, opts ...Option) *Retrier {
	r := &Retrier{
		policy: policy,
		logger: logger.With().Str("component", "retry").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the policy the retrier applies.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. It returns the number of attempts made and the
// last error unchanged. If ctx is cancelled during a wait, ctx.Err() is
// returned and no further attempt is made.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.BaseDelay
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = r.policy.MaxDelay
	if eb.MaxInterval <= 0 {
		eb.MaxInterval = time.Duration(math.MaxInt64)
	}
	eb.MaxElapsedTime = 0

	hinted := &hintedBackOff{
		delegate: backoff.WithMaxRetries(eb, uint64(r.policy.maxAttempts()-1)),
	}
	b := backoff.WithContext(hinted, ctx)

	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !llm.IsRetryableError(err) {
			r.logger.Debug().Err(err).Int("attempt", attempts).Str("kind", string(llm.KindOf(err))).Msg("Not retrying")
			return backoff.Permanent(err)
		}
		hinted.hint = llm.ExtractRetryAfter(err)
		return err
	}

	notify := func(err error, delay time.Duration) {
		r.logger.Warn().
			Err(err).
			Int("attempt", attempts).
			Int("max_attempts", r.policy.maxAttempts()).
			Str("kind", string(llm.KindOf(err))).
			Dur("next_delay", delay).
			Msg("Retryable provider error, backing off")
		if r.onRetry != nil {
			r.onRetry(attempts, delay, err)
		}
		if obs, ok := genctx.GetRetryObserver(ctx); ok {
			obs(attempts, delay, err)
		}
	}

	err := backoff.RetryNotifyWithTimer(operation, b, notify, r.timer)
	if err != nil && llm.IsRetryableError(err) && attempts >= r.policy.maxAttempts() {
		r.logger.Error().Err(err).Int("attempts", attempts).Msg("Retry budget exhausted")
	}
	return attempts, err
}

// hintedBackOff follows its delegate but lets a retry-after hint from the
// last error replace the delegate's delay. The delegate still advances so the
// attempt budget is counted the same way with or without hints.
type hintedBackOff struct {
	delegate backoff.BackOff
	hint     *time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	next := h.delegate.NextBackOff()
	hint := h.hint
	h.hint = nil
	if next == backoff.Stop || hint == nil {
		return next
	}
	return *hint
}

func (h *hintedBackOff) Reset() {
	h.hint = nil
	h.delegate.Reset()
}
