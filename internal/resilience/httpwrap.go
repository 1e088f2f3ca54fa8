package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPCaller issues single JSON calls to a collaborator behind a breaker with
// a bounded timeout. Pricing never retries; a failed call immediately routes
// the engine into its fallback path.
type HTTPCaller struct {
	Client  *http.Client
	Breaker *Breaker
	Timeout time.Duration
}

func (c HTTPCaller) client() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// PostJSON encodes in as the request body, POSTs it and decodes the response
// into out. Non-2xx statuses are errors and count against the breaker.
func (c HTTPCaller) PostJSON(ctx context.Context, url string, headers map[string]string, in, out any) error {
	call := func(ctx context.Context) error {
		if c.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.Timeout)
			defer cancel()
		}
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := c.client().Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("unexpected status %s", resp.Status)
		}
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	if c.Breaker != nil {
		return c.Breaker.Call(ctx, call)
	}
	return call(ctx)
}
