package context

import (
	stdctx "context"
	"time"
)

// debugCallbackKey is the type used as a context key for storing debug callbacks.
// This is in a separate package to avoid circular dependencies.
type debugCallbackKey struct{}

// retryObserverKey is the context key for retry observers.
type retryObserverKey struct{}

// RetryObserver is told about every retry before the backoff wait starts.
// attempt is 1-based and names the attempt that just failed.
type RetryObserver func(attempt int, delay time.Duration, err error)

// WithDebugCallback adds a debug callback function to the context.
// Adapters report wire-level details through it.
func WithDebugCallback(ctx stdctx.Context, cb func(string)) stdctx.Context {
	return stdctx.WithValue(ctx, debugCallbackKey{}, cb)
}

// GetDebugCallback retrieves a debug callback function from the context.
// Returns the callback and a bool indicating if it was set.
func GetDebugCallback(ctx stdctx.Context) (func(string), bool) {
	cb, ok := ctx.Value(debugCallbackKey{}).(func(string))
	return cb, ok
}

// Debug sends msg to the context's debug callback, if any.
func Debug(ctx stdctx.Context, msg string) {
	if cb, ok := GetDebugCallback(ctx); ok && cb != nil {
		cb(msg)
	}
}

// WithRetryObserver attaches a retry observer to the context.
func WithRetryObserver(ctx stdctx.Context, obs RetryObserver) stdctx.Context {
	return stdctx.WithValue(ctx, retryObserverKey{}, obs)
}

// GetRetryObserver retrieves the retry observer from the context.
func GetRetryObserver(ctx stdctx.Context) (RetryObserver, bool) {
	obs, ok := ctx.Value(retryObserverKey{}).(RetryObserver)
	return obs, ok && obs != nil
}
