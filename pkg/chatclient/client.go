// Package chatclient speaks the polling protocol of the chat server: it
// posts messages and typing heartbeats and fetches full snapshots of the
// feed and of the typing list.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/npezzotti/go-pollchat/internal/types"
)

const defaultTimeout = 10 * time.Second

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying on the next poll may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusServiceUnavailable || e.StatusCode >= http.StatusInternalServerError
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New returns a client for the server at baseURL. The client keeps the
// session cookie set by Login.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout, Jar: jar},
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.ToLower(http.StatusText(resp.StatusCode))
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: apiErr.Message}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) Register(ctx context.Context, username, password string) (types.User, error) {
	var u types.User
	err := c.do(ctx, http.MethodPost, "/api/auth/register", nil,
		types.Credentials{Username: username, Password: password}, &u)
	return u, err
}

func (c *Client) Login(ctx context.Context, username, password string) (types.User, error) {
	var u types.User
	err := c.do(ctx, http.MethodPost, "/api/auth/login", nil,
		types.Credentials{Username: username, Password: password}, &u)
	return u, err
}

func (c *Client) PostMessage(ctx context.Context, username, message string) (types.Message, error) {
	var m types.Message
	err := c.do(ctx, http.MethodPost, "/api/messages", nil,
		types.PostMessageRequest{Username: username, Message: message}, &m)
	return m, err
}

// ListRecent returns the recent window, oldest first.
func (c *Client) ListRecent(ctx context.Context) ([]types.Message, error) {
	var msgs []types.Message
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (c *Client) Heartbeat(ctx context.Context, username string, active bool) error {
	return c.do(ctx, http.MethodPost, "/api/typing", nil,
		types.TypingRequest{Username: username, Active: active}, nil)
}

// ListTyping returns the users typing, without username.
func (c *Client) ListTyping(ctx context.Context, username string) ([]string, error) {
	var resp types.TypingResponse
	q := url.Values{"username": []string{username}}
	if err := c.do(ctx, http.MethodGet, "/api/typing", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Typing, nil
}
