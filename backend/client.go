// Package backend talks to the authentication API: login, token renewal,
// logout and the user profile.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/internal/config"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
)

const (
	LoginPath   = "/login"
	RefreshPath = "/token/refresh"
	LogoutPath  = "/logout"
	ProfilePath = "/profile"

	DefaultTimeout = 15 * time.Second

	maxErrorBody = 4 << 10
)

// API is the network boundary used by the session manager and the refresh
// coordinator.
type API interface {
	Login(ctx context.Context, creds Credentials) (*LoginResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	Profile(ctx context.Context, accessToken string) (*users.User, error)
}

// Client is the HTTP implementation of API.
type Client struct {
	baseURL    string
	apiKey     string
	header     string
	timeout    time.Duration
	base       http.RoundTripper
	httpClient *http.Client
	log        zerolog.Logger
}

var _ API = (*Client)(nil)

type Option func(*Client)

func WithAPIKey(header, key string) Option {
	return func(c *Client) {
		if header != "" {
			c.header = header
		}
		c.apiKey = key
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithBaseTransport sets the transport under the API key layer.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.base = rt
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) {
		c.log = log
	}
}

func NewClient(baseURL string, options ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  DefaultAPIKeyHeader,
		timeout: DefaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	c.httpClient = &http.Client{Transport: c.Transport()}
	return c
}

// NewClientFromConfig builds a client from the network settings.
func NewClientFromConfig(cfg config.NetworkConfig, options ...Option) *Client {
	opts := append([]Option{
		WithAPIKey(cfg.GetAPIKeyHeader(), cfg.GetAPIKey()),
		WithTimeout(cfg.GetRequestTimeout()),
	}, options...)
	return NewClient(cfg.GetAPIBaseURL(), opts...)
}

// Transport returns the API key transport used for every request. It is
// the base for authenticated clients built on top of this one.
func (c *Client) Transport() http.RoundTripper {
	return &APIKeyTransport{Header: c.header, Key: c.apiKey, Base: c.base}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Timeout is the per-request deadline applied by the client.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) Login(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	var resp LoginResponse
	if err := c.do(ctx, http.MethodPost, LoginPath, "", creds, &resp); err != nil {
		return nil, fmt.Errorf("[Backend Login] %w", err)
	}
	return &resp, nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	var resp RefreshResponse
	if err := c.do(ctx, http.MethodPost, RefreshPath, "", refreshRequest{Refresh: refreshToken}, &resp); err != nil {
		return nil, fmt.Errorf("[Backend Refresh] %w", err)
	}
	return &resp, nil
}

func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if err := c.do(ctx, http.MethodPost, LogoutPath, accessToken, refreshRequest{Refresh: refreshToken}, nil); err != nil {
		return fmt.Errorf("[Backend Logout] %w", err)
	}
	return nil
}

func (c *Client) Profile(ctx context.Context, accessToken string) (*users.User, error) {
	var u users.User
	if err := c.do(ctx, http.MethodGet, ProfilePath, accessToken, nil, &u); err != nil {
		return nil, fmt.Errorf("[Backend Profile] %w", err)
	}
	return &u, nil
}

func (c *Client) do(ctx context.Context, method, path, bearer string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("[Backend] request failed")
		return transportError(method, path, err)
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(started)).
		Msg("[Backend] response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(method, path, resp.StatusCode, string(snippet), path == LoginPath)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return transportError(method, path, ctx.Err())
		}
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
