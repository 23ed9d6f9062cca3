package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sofatutor/brian/internal/api"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public OpenAI API.
const DefaultBaseURL = "https://api.openai.com"

const completionsPath = "/v1/chat/completions"

// UpstreamError is returned when the completion API answers with a non-2xx status.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, e.Message)
}

// Completer generates text for a prompt.
type Completer interface {
	Complete(ctx context.Context, user, prompt string) (string, error)
	Stream(ctx context.Context, user, prompt string, onDelta func(string) error) (string, error)
}

// Client is a Completer backed by an OpenAI-compatible API.
type Client struct {
	baseURL    string
	apiKey     string
	profile    *Profile
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Completer = (*Client)(nil)

// NewClient creates a Client. A nil profile means DefaultProfile; timeout zero means none.
func NewClient(baseURL, apiKey string, profile *Profile, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if profile == nil {
		profile = DefaultProfile()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		profile:    profile,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// Profile returns the assistant profile in use.
func (c *Client) Profile() *Profile {
	return c.profile
}

// Complete returns the whole completion for prompt.
func (c *Client) Complete(ctx context.Context, user, prompt string) (string, error) {
	resp, body, err := c.post(ctx, c.request(user, prompt, false))
	if err != nil {
		return "", err
	}
	defer closeAll(resp, body)

	var out ChatCompletionResponse
	if err := json.NewDecoder(body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// Stream requests a streamed completion and passes every content delta to
// onDelta as it arrives. It returns the concatenated text.
func (c *Client) Stream(ctx context.Context, user, prompt string, onDelta func(string) error) (string, error) {
	resp, body, err := c.post(ctx, c.request(user, prompt, true))
	if err != nil {
		return "", err
	}
	defer closeAll(resp, body)

	var full strings.Builder
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk ChatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("skipping unparsable stream event", zap.Error(err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		full.WriteString(delta)
		if onDelta != nil {
			if err := onDelta(delta); err != nil {
				return full.String(), err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("stream reading error: %w", err)
	}
	return full.String(), nil
}

func (c *Client) request(user, prompt string, stream bool) ChatCompletionRequest {
	return ChatCompletionRequest{
		Model: c.profile.Model,
		Messages: []ChatMessage{
			{Role: "system", Content: c.profile.SystemPrompt},
			{Role: "user", Content: prompt},
		},
		Stream:      stream,
		Temperature: c.profile.Temperature,
		MaxTokens:   c.profile.MaxTokens,
		User:        user,
	}
}

func (c *Client) post(ctx context.Context, payload ChatCompletionRequest) (*http.Response, io.ReadCloser, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", api.AcceptEncoding)
	if c.apiKey != "" {
		req.Header.Set("Authorization", api.BearerHeader(c.apiKey))
	}
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("upstream request failed: %w", err)
	}
	c.logger.Debug("upstream completion",
		zap.String("model", payload.Model),
		zap.Bool("stream", payload.Stream),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	body, err := api.DecodeBody(resp)
	if err != nil {
		_ = resp.Body.Close()
		return nil, nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer closeAll(resp, body)
		raw, _ := io.ReadAll(io.LimitReader(body, 64*1024))
		upErr := &UpstreamError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var env errorEnvelope
		if json.Unmarshal(raw, &env) == nil && env.Error.Message != "" {
			upErr.Message = env.Error.Message
		}
		return nil, nil, upErr
	}
	return resp, body, nil
}

func closeAll(resp *http.Response, body io.ReadCloser) {
	_ = body.Close()
	_ = resp.Body.Close()
}
