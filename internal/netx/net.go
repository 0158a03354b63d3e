// Package netx is the outbound HTTP side of the node: envelope delivery and
// fetches of remote documents and images, each bounded by a timeout.
package netx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/fedinode/internal/common"
)

// DefaultMaxBody caps how much of a fetched document is read.
const DefaultMaxBody = 10 << 20

// Client wraps an *http.Client with the node's user agent and per-call
// timeout. It follows redirects.
type Client struct {
	http    *http.Client
	timeout time.Duration
	maxBody int64
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{},
		timeout: timeout,
		maxBody: DefaultMaxBody,
	}
}

// WithHTTPClient swaps the underlying client; tests pass httptest clients.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, context.CancelFunc, error) {
	cancel := func() {}
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", common.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		cancel()
		return nil, func() {}, fmt.Errorf("%w: %s %s: %v", common.ErrRemoteUnreachable, req.Method, req.URL, err)
	}
	return resp, cancel, nil
}

// PostForm delivers a URL-encoded form body. Any non-2xx answer is an error.
func (c *Client) PostForm(ctx context.Context, url string, body string) error {
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, cancel, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: POST %s: %s; body: %s", common.ErrRemoteUnreachable, url, resp.Status, strings.TrimSpace(string(b)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Get fetches url and returns the body and its content type. A 404 maps to
// common.ErrorNotFound, other non-2xx answers to ErrRemoteUnreachable.
func (c *Client) Get(ctx context.Context, url string, accept string) ([]byte, string, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, cancel, err := c.do(ctx, req)
	if err != nil {
		return nil, "", err
	}
	defer cancel()
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", fmt.Errorf("GET %s: %w", url, common.ErrorNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, "", fmt.Errorf("%w: GET %s: %s", common.ErrRemoteUnreachable, url, resp.Status)
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read %s: %v", common.ErrRemoteUnreachable, url, err)
	}
	return b, resp.Header.Get("Content-Type"), nil
}
