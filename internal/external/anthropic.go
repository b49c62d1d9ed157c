package external

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/kjannette/cowtrader/internal/httputil"
)

const (
	DefaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
)

// AnthropicError is an error body from the Messages API.
type AnthropicError struct {
	Status  int
	Type    string
	Message string
}

func (e *AnthropicError) Error() string {
	return fmt.Sprintf("anthropic %d %s: %s", e.Status, e.Type, e.Message)
}

type AnthropicClient struct {
	apiKey     string
	model      string
	maxTokens  int
	baseURL    string
	httpClient *http.Client
	retry      httputil.RetryConfig
	breaker    *gobreaker.CircuitBreaker
}

type AnthropicOption func(*AnthropicClient)

func WithAnthropicBaseURL(u string) AnthropicOption {
	return func(c *AnthropicClient) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithAnthropicRetry(r httputil.RetryConfig) AnthropicOption {
	return func(c *AnthropicClient) { c.retry = r }
}

func NewAnthropicClient(apiKey, model string, opts ...AnthropicOption) *AnthropicClient {
	c := &AnthropicClient{
		apiKey:     apiKey,
		model:      model,
		maxTokens:  1024,
		baseURL:    DefaultAnthropicBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    15 * time.Second,
		},
		breaker: newBreaker("anthropic", 3, 5*time.Minute, func(err error) bool {
			var ae *AnthropicError
			return errors.As(err, &ae) && ae.Status < 500 && ae.Status != http.StatusTooManyRequests
		}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete sends one user turn and returns the concatenated text blocks of
// the reply.
func (c *AnthropicClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal: %w", err)
	}

	return execute(c.breaker, func() (string, error) {
		resp, err := httputil.Do(ctx, c.httpClient, c.retry, func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("x-api-key", c.apiKey)
			req.Header.Set("anthropic-version", anthropicVersion)
			return req, nil
		})
		if err != nil {
			return "", fmt.Errorf("anthropic request: %w", err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return "", fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			var e struct {
				Error struct {
					Type    string `json:"type"`
					Message string `json:"message"`
				} `json:"error"`
			}
			_ = json.Unmarshal(raw, &e)
			return "", &AnthropicError{Status: resp.StatusCode, Type: e.Error.Type, Message: e.Error.Message}
		}

		var out messagesResponse
		if err := json.Unmarshal(raw, &out); err != nil {
			return "", fmt.Errorf("decode: %w", err)
		}
		var sb strings.Builder
		for _, block := range out.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", fmt.Errorf("empty completion (stop_reason=%s)", out.StopReason)
		}
		return sb.String(), nil
	})
}
