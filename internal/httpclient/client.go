package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// StatusError is returned for responses with status >= 400. Body holds the
// raw payload so callers can decode gateway specific error shapes.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := string(e.Body)
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}

// TransportError means no usable response arrived: the request may or may
// not have reached the remote side.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

type Option func(*Client)

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers[key] = value
	}
}

// WithHTTPClient replaces the underlying client, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	headers    map[string]string
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Post(ctx context.Context, endpoint string, payload interface{}, response interface{}) error {
	return c.Do(ctx, http.MethodPost, endpoint, payload, response)
}

func (c *Client) Get(ctx context.Context, endpoint string, response interface{}) error {
	return c.Do(ctx, http.MethodGet, endpoint, nil, response)
}

// Do sends payload as JSON and decodes a successful response into response.
// A nil response discards the body.
func (c *Client) Do(ctx context.Context, method, endpoint string, payload interface{}, response interface{}) error {
	raw, err := c.DoRaw(ctx, method, endpoint, payload)
	if err != nil {
		return err
	}

	if response != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, response); err != nil {
			return &TransportError{Op: "decode response", Err: err}
		}
	}
	return nil
}

// DoRaw is Do without decoding, for callers that parse several shapes.
func (c *Client) DoRaw(ctx context.Context, method, endpoint string, payload interface{}) ([]byte, error) {
	url := c.baseURL + endpoint

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: method + " " + endpoint, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, &TransportError{Op: "read response", Err: err}
	}

	if resp.StatusCode >= 400 {
		return respBody, &StatusError{StatusCode: resp.StatusCode, Body: respBody}
	}

	return respBody, nil
}
