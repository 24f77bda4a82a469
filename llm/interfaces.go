package llm

import (
	"context"
)

// Client is a provider adapter: it turns a neutral Request into one vendor
// call and the vendor response back into a Result.
// Implementations must surface failures as *Error so the retry policy can
// act on them; vendor error types never leak past the adapter.
type Client interface {
	// Provider returns the provider identity used for pricing and cache class lookup.
	Provider() string

	// Synchronous sends a request and returns a complete result.
	Synchronous(ctx context.Context, req *Request) (*Result, error)

	// ListModels returns the models the provider exposes.
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// Middleware provides hooks for decorating Client calls.
type Middleware interface {
	// BeforeRequest is called before making an API request.
	// It can modify the request or return an error to abort the request.
	BeforeRequest(ctx context.Context, req *Request) (*Request, error)

	// AfterResponse is called after receiving a result.
	AfterResponse(ctx context.Context, req *Request, res *Result) (*Result, error)

	// OnError is called when an error occurs.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, req *Request, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, req *Request) (*Request, error)
	AfterResponseFunc func(ctx context.Context, req *Request, res *Result) (*Result, error)
	OnErrorFunc       func(ctx context.Context, req *Request, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, req *Request) (*Request, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, req)
	}
	return req, nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, req *Request, res *Result) (*Result, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, req, res)
	}
	return res, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, req *Request, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, req, err)
	}
	return err
}

// WrapWithMiddleware wraps a Client with middleware and returns a new Client.
func WrapWithMiddleware(client Client, middleware ...Middleware) Client {
	if len(middleware) == 0 {
		return client
	}
	return &clientWithMiddleware{
		client:     client,
		middleware: middleware,
	}
}

type clientWithMiddleware struct {
	client     Client
	middleware []Middleware
}

func (c *clientWithMiddleware) Provider() string {
	return c.client.Provider()
}

func (c *clientWithMiddleware) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return c.client.ListModels(ctx)
}

// Synchronous implements Client.Synchronous with middleware support.
func (c *clientWithMiddleware) Synchronous(ctx context.Context, req *Request) (*Result, error) {
	for _, mw := range c.middleware {
		var err error
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	res, err := c.client.Synchronous(ctx, req)
	if err != nil {
		for _, mw := range c.middleware {
			if replaced := mw.OnError(ctx, req, err); replaced != nil {
				err = replaced
			}
		}
		return nil, err
	}

	// AfterResponse runs in reverse order so the outermost middleware sees the final result.
	for i := len(c.middleware) - 1; i >= 0; i-- {
		res, err = c.middleware[i].AfterResponse(ctx, req, res)
		if err != nil {
			return nil, err
		}
	}

	return res, nil
}
