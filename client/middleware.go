package client

import (
	"context"

	"github.com/aschepis/backscratcher/genllm/llm"
	"github.com/rs/zerolog"
)

// AttemptLogger returns middleware that logs every adapter attempt. Prompt
// runs middleware inside the retry loop, so each retry is logged on its own.
func AttemptLogger(logger zerolog.Logger) llm.Middleware {
	log := logger.With().Str("component", "client.attempts").Logger()
	return llm.MiddlewareFunc{
		BeforeRequestFunc: func(ctx context.Context, req *llm.Request) (*llm.Request, error) {
			log.Debug().
				Str("model", req.Model).
				Int("messages", len(req.Messages)).
				Bool("structured", req.ResponseSchema != nil).
				Str("cache_handle", req.Cache.Handle).
				Msg("Sending request")
			return req, nil
		},
		AfterResponseFunc: func(ctx context.Context, req *llm.Request, res *llm.Result) (*llm.Result, error) {
			log.Debug().
				Str("model", req.Model).
				Str("finish_reason", string(res.FinishReason)).
				Int("text_len", len(res.Text)).
				Msg("Received response")
			return res, nil
		},
		OnErrorFunc: func(ctx context.Context, req *llm.Request, err error) error {
			log.Debug().Err(err).
				Str("model", req.Model).
				Str("kind", string(llm.KindOf(err))).
				Msg("Attempt failed")
			return err
		},
	}
}
