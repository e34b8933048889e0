// Package restclient implements the authenticated request engine for the
// procfleet control-plane API: per-attempt timeouts, retry with exponential
// backoff, and a typed success/error contract. Every call either returns a
// *Response (possibly with no content) or an error that errors.As-matches
// exactly one of *APIError or *ConnectionError.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"
)

// Defaults applied by New.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// eventsPath is the streaming endpoint on the control plane.
const eventsPath = "/wss"

// Response carries the transport metadata of a completed call. A 2xx
// response with an empty Body is a valid no-content success.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Options configures a single Do call.
type Options struct {
	// Body is JSON-encoded as the request body when non-nil.
	Body any
	// Headers are extra request headers. They take precedence over engine
	// defaults, except Authorization, which the engine always overwrites.
	Headers map[string]string
	// Dest receives the decoded 2xx response body when non-nil. An empty or
	// undecodable body leaves Dest untouched.
	Dest any
}

// Client is one session against the control plane: an immutable base URL, a
// replaceable bearer token, and the retry policy applied to every verb.
//
// Timeout, MaxRetries and RetryDelay may be adjusted before issuing calls.
// The token is the only field safe to replace concurrently, via SetToken.
type Client struct {
	Timeout    time.Duration // Per-attempt deadline.
	MaxRetries int           // Retries after the first attempt.
	RetryDelay time.Duration // Backoff before the first retry; doubles each retry.
	HTTPClient *http.Client  // Falls back to a cached default client.
	Logger     zerolog.Logger

	baseURL string

	tokenMu sync.RWMutex
	token   string

	// sleepFunc is used for testing; defaults to a context-aware sleep.
	sleepFunc func(ctx context.Context, d time.Duration) error

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a Client for the given base URL (no trailing slash) and bearer
// token, with default timeout and retry policy.
func New(baseURL, token string) *Client {
	return &Client{
		Timeout:    DefaultTimeout,
		MaxRetries: DefaultMaxRetries,
		RetryDelay: DefaultRetryDelay,
		Logger:     zerolog.Nop(),
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		sleepFunc:  contextSleep,
	}
}

// BaseURL returns the session's immutable base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// SetToken replaces the bearer token. The new token takes effect on the next
// attempt, including retry attempts of a call already in flight, since the
// Authorization header is rebuilt from current state on every attempt.
func (c *Client) SetToken(token string) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// SetSleepFunc overrides the backoff sleep function (for testing).
func (c *Client) SetSleepFunc(fn func(ctx context.Context, d time.Duration) error) {
	c.sleepFunc = fn
}

// contextSleep sleeps for d or until ctx is cancelled.
func contextSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// httpClient returns the configured client or a cached default. The default
// carries no client-level timeout; the per-attempt context enforces it.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}

	c.clientOnce.Do(func() {
		c.defaultClient = &http.Client{}
	})

	return c.defaultClient
}

// Get issues GET {baseURL}{path}, decoding a 2xx body into dest when non-nil.
func (c *Client) Get(ctx context.Context, path string, dest any) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, Options{Dest: dest})
}

// Post issues POST {baseURL}{path} with an optional JSON body.
func (c *Client) Post(ctx context.Context, path string, body, dest any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, Options{Body: body, Dest: dest})
}

// Put issues PUT {baseURL}{path} with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, dest any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, Options{Body: body, Dest: dest})
}

// Delete issues DELETE {baseURL}{path}.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, Options{})
}

// Do runs the attempt loop for one call: up to MaxRetries retries after the
// first attempt, waiting RetryDelay * 2^n between attempt n and n+1. The
// terminal error preserves the last *APIError as-is when the final failure
// was HTTP-level; a timeout, abort, or network failure on the final attempt
// is wrapped in *ConnectionError instead.
func (c *Client) Do(ctx context.Context, method, path string, opts Options) (*Response, error) {
	var payload []byte
	if opts.Body != nil {
		var err error
		if payload, err = json.Marshal(opts.Body); err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
	}

	maxRetries := max(c.MaxRetries, 0)

	var (
		lastAPI *APIError
		lastNet error
	)

	for attempt := 0; attempt < maxRetries+1; attempt++ {
		if attempt > 0 {
			delay := c.RetryDelay << (attempt - 1)
			if err := c.sleepFunc(ctx, delay); err != nil {
				return nil, &ConnectionError{Message: "cancelled during backoff", Err: err}
			}
		}

		resp, apiErr, netErr := c.attempt(ctx, method, path, payload, opts.Headers)

		switch {
		case netErr != nil:
			lastNet = netErr
			c.Logger.Debug().Err(netErr).Int("attempt", attempt).
				Str("method", method).Str("path", path).Msg("attempt failed")
		case apiErr != nil:
			lastAPI, lastNet = apiErr, nil
			c.Logger.Debug().Int("status", apiErr.Status).Int("attempt", attempt).
				Str("method", method).Str("path", path).Msg("attempt rejected")
		default:
			if opts.Dest != nil && len(resp.Body) > 0 {
				if err := json.Unmarshal(resp.Body, opts.Dest); err != nil {
					// Tolerated: an undecodable 2xx body is a no-content success.
					c.Logger.Debug().Err(err).Str("path", path).Msg("undecodable response body")
				}
			}
			return resp, nil
		}
	}

	if lastNet != nil {
		msg := "no response from server"
		if lastAPI != nil {
			msg = fmt.Sprintf("no response from server (last status %d: %s)", lastAPI.Status, lastAPI.Message)
		}
		return nil, &ConnectionError{Message: msg, Err: lastNet}
	}

	if lastAPI != nil {
		return nil, lastAPI
	}

	return nil, errInternal
}

// attempt performs one authenticated request under the per-attempt timeout.
// Exactly one of the three results is populated: a 2xx response, an
// *APIError for a non-2xx status, or a transport error (which includes a
// fired timeout).
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, headers map[string]string) (*Response, *APIError, error) {
	actx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(actx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, err
	}

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	// Set last: callers cannot override the engine's Authorization header.
	req.Header.Set("Authorization", "Bearer "+c.Token())

	httpResp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, nil, err
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, newAPIError(httpResp.StatusCode, raw), nil
	}

	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: raw}, nil, nil
}

// wsURL converts the base URL to a WebSocket URL and appends the path.
// https becomes wss, http becomes ws. URLs that already use ws/wss are left
// unchanged.
func (c *Client) wsURL(path string) string {
	u := c.baseURL + path

	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[len("https://"):]
	}

	if strings.HasPrefix(u, "http://") {
		return "ws://" + u[len("http://"):]
	}

	return u
}

// DialEvents establishes a WebSocket connection to the control plane's event
// endpoint, authenticated with the current bearer token.
func (c *Client) DialEvents(ctx context.Context) (*websocket.Conn, error) {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+c.Token())

	conn, _, err := websocket.Dial(ctx, c.wsURL(eventsPath), &websocket.DialOptions{
		HTTPClient: c.httpClient(),
		HTTPHeader: h,
	})
	if err != nil {
		return nil, fmt.Errorf("dial events: %w", err)
	}

	return conn, nil
}
