package judge

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

	"golang.org/x/time/rate"
)

var (
	// ErrNotConfigured indicates the judgment client has no API key
	ErrNotConfigured = errors.New("judge client not configured")
	// ErrAPICallFailed indicates the judgment API call failed
	ErrAPICallFailed = errors.New("judge API call failed")
	// ErrInvalidResponse indicates an unusable response envelope
	ErrInvalidResponse = errors.New("invalid judge API response")
)

// Provider represents a judgment engine provider
type Provider string

const (
	// ProviderOpenAI represents the OpenAI chat completions API
	ProviderOpenAI Provider = "openai"
	// ProviderClaude represents the Anthropic API
	ProviderClaude Provider = "claude"
	// ProviderCustom represents an OpenAI-compatible custom endpoint
	ProviderCustom Provider = "custom"
)

// Client calls a chat-completions style judgment engine. Requests are
// rate limited so a burst of batches cannot trip provider quotas.
type Client struct {
	provider   Provider
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a judgment Client. An empty baseURL picks the
// provider default.
func NewClient(provider, apiKey, model, baseURL string, timeout time.Duration) *Client {
	c := &Client{
		provider:   Provider(strings.ToLower(provider)),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 2),
	}

	if baseURL != "" {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	} else {
		switch c.provider {
		case ProviderClaude:
			c.baseURL = "https://api.anthropic.com/v1"
			if c.model == "" {
				c.model = "claude-3-haiku-20240307"
			}
		default:
			c.provider = ProviderOpenAI
			c.baseURL = "https://api.openai.com/v1"
			if c.model == "" {
				c.model = "gpt-4o-mini"
			}
		}
	}
	return c
}

// IsConfigured returns whether the client can make calls
func (c *Client) IsConfigured() bool {
	return c.apiKey != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends one system+user exchange and returns the raw text
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}

	request := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   1000,
		Temperature: 0.2,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	switch c.provider {
	case ProviderClaude:
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")
	default:
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAPICallFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrAPICallFailed, resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("%w: %s", ErrAPICallFailed, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", ErrInvalidResponse
	}
	return chatResp.Choices[0].Message.Content, nil
}
