// Package api is a typed client for the BudgetBuddy REST backend.
package api

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
	"time"

	"github.com/google/uuid"

	"budgetbuddy/internal/core"
	"budgetbuddy/internal/log"
	"budgetbuddy/internal/middleware/trace"
)

// maxBodySize bounds how much of a response is read.
const maxBodySize = 4 << 20

// TokenSource provides the bearer token of the current session.
type TokenSource interface {
	CurrentToken() (string, bool)
}

type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	logger  *log.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l.WithComponent(log.ComponentAPI) }
}

// New creates a client for the API rooted at baseURL, e.g.
// http://localhost:8000/api/v1.
func New(baseURL string, tokens TokenSource, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse API base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported API base URL scheme %q", u.Scheme)
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// do sends one request. path is already escaped. body is JSON encoded when
// non-nil and out is decoded from a 2xx response when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, auth bool, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := *c.baseURL
	raw := c.baseURL.EscapedPath() + path
	unescaped, err := url.PathUnescape(raw)
	if err != nil {
		return fmt.Errorf("build request path: %w", err)
	}
	u.Path, u.RawPath = unescaped, raw
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	requestID := trace.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.Header.Set(trace.HeaderRequestID, requestID)

	if auth {
		token, ok := c.tokens.CurrentToken()
		if !ok {
			return ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Backend request failed",
			log.FieldMethod, method, log.FieldPath, path, log.FieldRequestID, requestID,
			log.FieldErrorType, log.ErrorTypeNetwork, log.FieldError, err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%s %s: read response: %w", method, path, err)
	}

	c.logger.DebugContext(ctx, "Backend request",
		log.FieldMethod, method, log.FieldPath, path, log.FieldRequestID, requestID,
		log.FieldStatusCode, resp.StatusCode, log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(method, path, resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: %w: %v", method, path, core.ErrMalformedPayload, err)
	}
	return nil
}

// decodeList accepts a bare JSON array or an object wrapping it in "data".
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []T{}, nil
	}
	if raw[0] == '{' {
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || len(wrapped.Data) == 0 {
			return nil, fmt.Errorf("%w: expected a list", core.ErrMalformedPayload)
		}
		raw = wrapped.Data
	}
	out := []T{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedPayload, err)
	}
	return out, nil
}

func idPath(prefix string, id core.ID) (string, error) {
	if id.IsZero() {
		return "", errors.New("missing id")
	}
	return prefix + url.PathEscape(id.String()), nil
}
