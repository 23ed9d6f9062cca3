// Package client provides HTTP client functionality for communicating with the brian API.
package client

import (
	"bufio"
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

	"github.com/sofatutor/brian/internal/api"
	"go.uber.org/zap"
)

// DefaultBaseURL is the loopback address the API listens on by default.
const DefaultBaseURL = "http://127.0.0.1:8000"

// Endpoint paths.
const (
	PathLogin        = "/login"
	PathCreateUser   = "/create-user"
	PathGenerateText = "/generate-text"
	PathHealth       = "/health"
)

// APIError is returned for every non-2xx response.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("API error %d", e.StatusCode)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Detail)
}

// IsUnauthorized reports whether the server rejected the credential itself.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// Client talks to the brian API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithTimeout sets an overall request timeout. Zero means no timeout. The
// http.Client is copied so one passed to WithHTTPClient is not modified.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := &http.Client{}
		if c.HTTPClient != nil {
			copied := *c.HTTPClient
			hc = &copied
		}
		hc.Timeout = d
		c.HTTPClient = hc
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a client for baseURL. No timeout is applied unless requested;
// callers cancel through the context.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login submits credentials and returns the issued access token.
func (c *Client) Login(ctx context.Context, username, password string) (*api.LoginResponse, error) {
	req, err := c.newRequest(ctx, PathLogin, api.LoginRequest{Username: username, Password: password}, "")
	if err != nil {
		return nil, err
	}
	var out api.LoginResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateUser registers a new account.
func (c *Client) CreateUser(ctx context.Context, in api.CreateUserRequest) (*api.MessageResponse, error) {
	req, err := c.newRequest(ctx, PathCreateUser, in, "")
	if err != nil {
		return nil, err
	}
	var out api.MessageResponse
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GenerateText sends prompt with the bearer credential and returns the generated text.
func (c *Client) GenerateText(ctx context.Context, token, prompt string) (string, error) {
	req, err := c.newRequest(ctx, PathGenerateText, api.GenerateTextRequest{Prompt: prompt}, token)
	if err != nil {
		return "", err
	}
	var out api.GenerateTextResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// GenerateTextStream asks for a plain-text streamed completion and hands each
// chunk to onChunk as it arrives. The full text is returned.
func (c *Client) GenerateTextStream(ctx context.Context, token, prompt string, onChunk func(string) error) (string, error) {
	req, err := c.newRequest(ctx, PathGenerateText, api.GenerateTextRequest{Prompt: prompt}, token)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "text/plain")

	resp, body, err := c.send(req)
	if err != nil {
		return "", err
	}
	defer c.closeBody(resp, body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", readAPIError(resp.StatusCode, body)
	}

	var full strings.Builder
	reader := bufio.NewReader(body)
	buf := make([]byte, 4096)
	for {
		n, readErr := reader.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			full.WriteString(chunk)
			if onChunk != nil {
				if err := onChunk(chunk); err != nil {
					return full.String(), err
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return full.String(), fmt.Errorf("stream reading error: %w", readErr)
		}
	}
	return full.String(), nil
}

// Health checks that the API is reachable.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+PathHealth, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	out := map[string]any{}
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// newRequest builds a JSON POST request, adding the bearer header when token is set.
func (c *Client) newRequest(ctx context.Context, path string, body any, token string) (*http.Request, error) {
	if _, err := url.Parse(c.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", api.AcceptEncoding)
	if token != "" {
		req.Header.Set("Authorization", api.BearerHeader(token))
	}
	return req, nil
}

// send executes req and returns the response with a decoded body reader.
func (c *Client) send(req *http.Request) (*http.Response, io.ReadCloser, error) {
	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request failed: %w", err)
	}
	c.logger.Debug("api request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	body, err := api.DecodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, nil, err
	}
	return resp, body, nil
}

func (c *Client) closeBody(resp *http.Response, body io.ReadCloser) {
	_ = body.Close()
	if err := resp.Body.Close(); err != nil {
		c.logger.Warn("failed to close response body", zap.Error(err))
	}
}

// do executes req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out any) error {
	resp, body, err := c.send(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp, body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readAPIError(resp.StatusCode, body)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// readAPIError turns an error body into an APIError. The detail is taken from
// {"detail": "..."}; validation-style detail arrays are flattened, anything
// else falls back to the raw body.
func readAPIError(status int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 64*1024))
	apiErr := &APIError{StatusCode: status}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && len(payload.Detail) > 0 {
		apiErr.Detail = flattenDetail(payload.Detail)
		return apiErr
	}
	apiErr.Detail = strings.TrimSpace(string(raw))
	return apiErr
}

func flattenDetail(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &items); err == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return string(raw)
}
