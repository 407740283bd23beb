// Package httputil is a small collection of HTTP helpers shared by the
// external-collaborator clients (ledger, swap router, chain RPC). It
// generalizes api.HttpGET/HttpPOST's whitelisted-User-Agent pattern from
// the teacher into JSON-in/JSON-out helpers bound to a context.
package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UserAgent is sent on every outbound request this package issues, the
// same way api.HttpGET always sets "Rivine-Agent".
const UserAgent = "treasury-agent"

// Client wraps http.Client with the agent's fixed User-Agent and a default
// per-request timeout, used by every external collaborator implementation.
type Client struct {
	HTTP *http.Client
}

// New returns a Client with a sane default timeout.
func New(timeout time.Duration) *Client {
	return &Client{HTTP: &http.Client{Timeout: timeout}}
}

// GetJSON issues a GET request and decodes a JSON response body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// PostJSON issues a POST request with a JSON-encoded body and decodes a
// JSON response body into out. out may be nil if the caller does not need
// the response.
func (c *Client) PostJSON(ctx context.Context, url string, body, out interface{}) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("httputil: %s %s: status %d: %s", req.Method, req.URL, resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
