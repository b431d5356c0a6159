// Package apiclient is the shared HTTP client for the CTMS REST API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/clinprecision/ctms-forms/internal/audit"
	"github.com/clinprecision/ctms-forms/internal/metrics"
	"github.com/clinprecision/ctms-forms/internal/validation"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single request when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response is kept on StatusError.
const maxErrorBody = 4096

// ErrUnauthorized is returned, wrapped in a *StatusError, when the API
// rejects the session.
var ErrUnauthorized = errors.New("CTMS session is not authorized")

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 responses.
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// TokenStore supplies the bearer token and forgets it when the API rejects
// it. Token returns "" with a nil error when no session exists.
type TokenStore interface {
	Token(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

// Client sends JSON requests to the CTMS API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenStore
	profile    string

	onUnauthorized func()
	validator      *validation.InputValidator

	logger  *zap.Logger
	metrics *metrics.Metrics
	audit   *audit.Logger

	mu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithTokenStore sets where the bearer token comes from. Profile names the
// credential in audit events.
func WithTokenStore(tokens TokenStore, profile string) Option {
	return func(c *Client) {
		c.tokens = tokens
		c.profile = profile
	}
}

// OnUnauthorized registers fn to run after a 401 clears a session that had
// a token.
func OnUnauthorized(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithAudit(a *audit.Logger) Option {
	return func(c *Client) { c.audit = a }
}

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q: must be an absolute http(s) URL", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		validator:  validation.NewInputValidator(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured API root.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Get fetches path and decodes the JSON body into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post sends body as JSON and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do performs one request. Requests are never retried.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	if err := c.validator.ValidateEndpoint(path); err != nil {
		return fmt.Errorf("invalid API path %q: %w", path, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	token, err := c.token(ctx)
	if err != nil {
		return err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordExternalAPICall(path, method, 0, elapsed, err)
		c.logger.Error("CTMS API request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.metrics.RecordExternalAPICall(path, method, resp.StatusCode, elapsed, nil)
	c.logger.Debug("CTMS API request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", elapsed),
	)

	if resp.StatusCode == http.StatusUnauthorized {
		c.unauthorized(ctx, path, token != "")
		return &StatusError{StatusCode: resp.StatusCode, Method: method, Path: path}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read API token: %w", err)
	}
	return token, nil
}

// unauthorized drops the rejected session. The callback only fires when a
// token was sent; an anonymous 401 means the caller is already logged out.
func (c *Client) unauthorized(ctx context.Context, path string, hadToken bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Warn("CTMS API rejected session", zap.String("path", path), zap.Bool("had_token", hadToken))
	if c.tokens != nil {
		if err := c.tokens.Clear(ctx); err != nil {
			c.logger.Error("Failed to clear rejected token", zap.Error(err))
		}
	}
	c.audit.LogSessionCleared(path, c.profile)

	if hadToken && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}
