package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxErrorBody = 4 << 10

// Session carries the caller identity attached to every outgoing request.
// It is passed explicitly instead of being read from ambient storage.
type Session struct {
	Token     string
	CompanyID string
}

// Client issues JSON GET requests against the back-office API.
type Client struct {
	baseURL    string
	session    Session
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a new client for baseURL acting as session.
func NewClient(baseURL string, session Session, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetJSON performs one GET request and returns the raw JSON body of a 2xx answer.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	target := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("platform/httpx: build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if c.session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.session.Token)
	}
	if c.session.CompanyID != "" {
		req.Header.Set("X-Company-ID", c.session.CompanyID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("api request failed", slog.String("path", path), slog.String("request_id", requestID), slog.Any("error", err))
		return nil, fmt.Errorf("platform/httpx: %w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.logger.Debug("api request",
		slog.String("path", path),
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeStatusError(resp)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("platform/httpx: %w: read body: %v", ErrUnavailable, err)
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("platform/httpx: %w: response is not valid json", ErrUnavailable)
	}
	return json.RawMessage(body), nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{Status: resp.StatusCode}
	var problem ProblemDetail
	if err := json.Unmarshal(raw, &problem); err == nil && (problem.Title != "" || problem.Detail != "") {
		se.Title = problem.Title
		se.Detail = problem.Detail
		return se
	}
	var generic struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &generic); err == nil {
		if generic.Message != "" {
			se.Detail = generic.Message
			return se
		}
		if generic.Error != "" {
			se.Detail = generic.Error
			return se
		}
	}
	se.Detail = string(bytes.TrimSpace(raw))
	return se
}
