package outbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var ErrTooManyRedirects = errors.New("too_many_redirects")

// Response is the classified outcome of a guarded send. Body is truncated to
// the configured cap; destinations can return arbitrarily large bodies and we
// only keep enough for triage.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client sends guarded, signed POST requests. Redirects are handled manually
// so the guard can vet every hop; the transport is injectable for tests.
type Client struct {
	guard            *Guard
	transport        http.RoundTripper
	timeout          time.Duration
	maxRedirects     int
	maxResponseBytes int
}

func NewClient(guard *Guard, timeout time.Duration, maxRedirects, maxResponseBytes int) *Client {
	return &Client{
		guard:            guard,
		transport:        http.DefaultTransport,
		timeout:          timeout,
		maxRedirects:     maxRedirects,
		maxResponseBytes: maxResponseBytes,
	}
}

// WithTransport swaps the underlying RoundTripper. Test hook.
func (c *Client) WithTransport(rt http.RoundTripper) *Client {
	c.transport = rt
	return c
}

// Post sends the body to targetURL, re-running the guard before the first
// request and before each redirect hop. A hop past maxRedirects or to an
// unsafe URL fails closed.
func (c *Client) Post(ctx context.Context, targetURL string, body []byte, headers map[string]string) (*Response, error) {
	httpClient := &http.Client{
		Transport: c.transport,
		Timeout:   c.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	currentURL := targetURL
	for hop := 0; ; hop++ {
		safeURL, err := c.guard.AssertSafeOutboundURL(currentURL)
		if err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, safeURL.String(), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		for name, value := range headers {
			req.Header.Set(name, value)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			location := resp.Header.Get("Location")
			io.Copy(io.Discard, io.LimitReader(resp.Body, int64(c.maxResponseBytes)))
			resp.Body.Close()

			if location == "" {
				return &Response{StatusCode: resp.StatusCode, Header: resp.Header, FinalURL: safeURL.String()}, nil
			}
			if hop >= c.maxRedirects {
				return nil, fmt.Errorf("%w: cap is %d", ErrTooManyRedirects, c.maxRedirects)
			}
			next, err := safeURL.Parse(location)
			if err != nil {
				return nil, fmt.Errorf("%w: bad redirect location", ErrSsrfBlocked)
			}
			currentURL = next.String()
			continue
		}

		truncated, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.maxResponseBytes)))
		resp.Body.Close()
		if err != nil {
			return nil, err
		}
		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       truncated,
			FinalURL:   safeURL.String(),
		}, nil
	}
}
