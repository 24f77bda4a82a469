package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// exchange carries per-call data between the client and the transport:
// body fields the SDK has no struct field for, and the parts of the reply
// the SDK drops.
type exchange struct {
	extra map[string]any

	usage  json.RawMessage
	header http.Header
}

type exchangeKey struct{}

func withExchange(ctx context.Context, ex *exchange) context.Context {
	return context.WithValue(ctx, exchangeKey{}, ex)
}

func exchangeFrom(ctx context.Context) *exchange {
	ex, _ := ctx.Value(exchangeKey{}).(*exchange)
	return ex
}

// captureTransport injects extra body fields into outgoing JSON requests and
// records the raw usage object and headers of the response.
type captureTransport struct {
	base http.RoundTripper
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ex := exchangeFrom(req.Context())
	if ex == nil {
		return t.base.RoundTrip(req)
	}

	if len(ex.extra) > 0 && req.Body != nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body, err = injectFields(body, ex.extra)
		if err != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	ex.header = resp.Header.Clone()

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if u := gjson.GetBytes(body, "usage"); u.IsObject() {
		ex.usage = json.RawMessage(u.Raw)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// injectFields sets each field on the JSON body. Keys are applied in sorted
// order so nested paths are deterministic.
func injectFields(body []byte, fields map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var err error
	for _, k := range keys {
		body, err = sjson.SetBytes(body, k, fields[k])
		if err != nil {
			return nil, fmt.Errorf("set request field %s: %w", k, err)
		}
	}
	return body, nil
}
