package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Error represents a provider-neutral, classified LLM error.
type Error struct {
	Kind        ErrorKind
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	Provider    string
	ProviderErr error // Original provider-specific error
}

// ErrorKind is the closed classification the retry policy acts on.
type ErrorKind string

const (
	ErrorKindRateLimited ErrorKind = "rate_limited"
	ErrorKindTransient   ErrorKind = "transient"
	ErrorKindFatal       ErrorKind = "fatal"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.ProviderErr != nil {
		return msg + ": " + e.ProviderErr.Error()
	}
	return msg
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// KindOf returns the classification of err. Errors that were never
// classified are fatal.
func KindOf(err error) ErrorKind {
	var llmErr *Error
	if errors.As(err, &llmErr) && llmErr.Kind != "" {
		return llmErr.Kind
	}
	return ErrorKindFatal
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Kind == ErrorKindRateLimited
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// IsFatalError checks if an error must not be retried.
func IsFatalError(err error) bool {
	return err != nil && !IsRetryableError(err)
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Kind:        ErrorKindRateLimited,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  http.StatusTooManyRequests,
		ProviderErr: providerErr,
	}
}

// NewTransientError creates a retryable server or network error.
func NewTransientError(message string, statusCode int, providerErr error) *Error {
	return &Error{
		Kind:        ErrorKindTransient,
		Message:     message,
		Retryable:   true,
		StatusCode:  statusCode,
		ProviderErr: providerErr,
	}
}

// NewFatalError creates a non-retryable error: bad auth, malformed request,
// content policy rejection.
func NewFatalError(message string, statusCode int, providerErr error) *Error {
	return &Error{
		Kind:        ErrorKindFatal,
		Message:     message,
		Retryable:   false,
		StatusCode:  statusCode,
		ProviderErr: providerErr,
	}
}

// WithProvider stamps the provider name on the error and returns it.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// ClassifyStatus turns an HTTP status returned by a vendor into a classified error.
// header may be nil.
func ClassifyStatus(provider string, status int, header http.Header, message string, providerErr error) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	var e *Error
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := ParseRetryAfter(header)
		if retryAfter == nil {
			retryAfter = retryAfterFromMessage(message)
		}
		e = NewRateLimitError(message, retryAfter, providerErr)
	case status == http.StatusRequestTimeout,
		status == http.StatusConflict,
		status == 529, // overloaded
		status >= 500:
		e = NewTransientError(message, status, providerErr)
	default:
		// Some vendors report quota exhaustion with a 400 or 403 body. The
		// status is already known, so only worded indicators count here.
		if mentionsRateLimit(message) {
			e = NewRateLimitError(message, retryAfterFromMessage(message), providerErr)
			e.StatusCode = status
		} else {
			e = NewFatalError(message, status, providerErr)
		}
	}
	return e.WithProvider(provider)
}

// ClassifyError classifies an error that carries no HTTP status, such as a
// transport failure. Context cancellation is returned untouched so callers
// see it as-is.
func ClassifyError(provider string, err error) error {
	if err == nil {
		return nil
	}
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	msg := err.Error()
	if looksRateLimited(msg) {
		return NewRateLimitError("rate limited", retryAfterFromMessage(msg), err).WithProvider(provider)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || looksTransient(msg) {
		return NewTransientError("network error", 0, err).WithProvider(provider)
	}
	return NewFatalError("request failed", 0, err).WithProvider(provider)
}

// ParseRetryAfter reads a Retry-After header given either in seconds or as an HTTP date.
func ParseRetryAfter(header http.Header) *time.Duration {
	if header == nil {
		return nil
	}
	value := strings.TrimSpace(header.Get("Retry-After"))
	if value == "" {
		if ms := header.Get("Retry-After-Ms"); ms != "" {
			if n, err := strconv.ParseFloat(ms, 64); err == nil && n >= 0 {
				d := time.Duration(n * float64(time.Millisecond))
				return &d
			}
		}
		return nil
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil && secs >= 0 {
		d := time.Duration(secs * float64(time.Second))
		return &d
	}
	if at, err := http.ParseTime(value); err == nil {
		d := time.Until(at)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

var rateLimitIndicators = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"too many requests",
	"quota exceeded",
	"resource_exhausted",
	"resource exhausted",
}

var transientIndicators = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"timeout",
	"temporarily unavailable",
	"overloaded",
}

// statusTooManyPattern matches a standalone 429, not digits inside token
// counts or keys.
var statusTooManyPattern = regexp.MustCompile(`\b429\b`)

func mentionsRateLimit(msg string) bool {
	return containsAny(strings.ToLower(msg), rateLimitIndicators)
}

// looksRateLimited is for errors without a status, where a bare 429 in the
// message is the best evidence available.
func looksRateLimited(msg string) bool {
	return mentionsRateLimit(msg) || statusTooManyPattern.MatchString(msg)
}

func looksTransient(msg string) bool {
	return containsAny(strings.ToLower(msg), transientIndicators)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

var retryAfterPattern = regexp.MustCompile(`(?i)(?:retry[ _-]?after|retry in|wait)[^0-9]{0,10}(\d+(?:\.\d+)?)\s*(ms|s|sec|seconds?)?`)

func retryAfterFromMessage(msg string) *time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return nil
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	unit := time.Second
	if strings.EqualFold(m[2], "ms") {
		unit = time.Millisecond
	}
	d := time.Duration(n * float64(unit))
	return &d
}
