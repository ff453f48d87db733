// Package client talks to the relay's sync endpoint.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joescharf/scoutsync/internal/models"
)

const (
	defaultTimeout = 10 * time.Second
	defaultPath    = "/sync-state"
)

// ErrEndpointInvalid is returned by New when the endpoint is not an absolute
// http(s) URL.
var ErrEndpointInvalid = errors.New("sync endpoint must be an http(s) URL")

// Client talks to a relay's sync endpoint.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	timeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout bounds each request. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New returns a client for endpoint. A bare host URL gets the default sync
// path appended.
func New(endpoint, token string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrEndpointInvalid, endpoint)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = defaultPath
	}
	c := &Client{
		endpoint: u.String(),
		token:    strings.TrimSpace(token),
		client:   &http.Client{},
		timeout:  defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the resolved sync URL.
func (c *Client) Endpoint() string { return c.endpoint }

// RequestError is returned when the relay answers with a non-2xx status.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Fetch returns the raw snapshot body.
func (c *Client) Fetch(ctx context.Context, includeLog bool) ([]byte, error) {
	var query url.Values
	if includeLog {
		query = url.Values{"includeLog": {"1"}}
	}
	return c.request(ctx, http.MethodGet, query, nil)
}

// Push sends an envelope and returns the raw snapshot body of the response.
func (c *Client) Push(ctx context.Context, req *models.PutRequest) ([]byte, error) {
	if req == nil {
		return nil, errors.New("push: nil request")
	}
	return c.request(ctx, http.MethodPut, nil, req)
}

// State fetches and decodes the snapshot.
func (c *Client) State(ctx context.Context, includeLog bool) (*models.Snapshot, error) {
	body, err := c.Fetch(ctx, includeLog)
	if err != nil {
		return nil, err
	}
	return DecodeSnapshot(body)
}

// DecodeSnapshot decodes a snapshot body.
func DecodeSnapshot(body []byte) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (c *Client) request(ctx context.Context, method string, query url.Values, body any) ([]byte, error) {
	u := c.endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Sync-Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(payload))
		if err := json.Unmarshal(payload, &er); err == nil && er.Error != "" {
			msg = er.Error
		}
		return nil, &RequestError{StatusCode: resp.StatusCode, Message: msg}
	}
	return payload, nil
}

// Reason classifies a request failure for status reporting: "timeout",
// "http <code>", "config" or "network".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("http %d", reqErr.StatusCode)
	}
	if errors.Is(err, ErrEndpointInvalid) {
		return "config"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	return "network"
}
