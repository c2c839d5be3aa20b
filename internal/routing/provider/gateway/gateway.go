// Package gateway adapts routing.Client to a generic OpenAI-compatible
// chat-completions HTTP endpoint, the shape most self-hosted or
// third-party model gateways (vLLM, LiteLLM, OpenRouter) expose. Retries
// follow the exponential-backoff pattern from
// internal/memory/embedder/remote, grounded on the same
// cenkalti/backoff/v4 dependency.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/routing"
)

// Client calls a chat-completions-compatible HTTP endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string // e.g. "https://gateway.internal/v1"
	APIKey     string
	Model      string
	MaxRetries uint64        // default 3
	BaseDelay  time.Duration // default 200ms
	MaxDelay   time.Duration // default 5s
}

// New builds a Client.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 200 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		model:      opts.Model,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete posts req to the configured endpoint, retrying transient
// (5xx, network) failures with exponential backoff up to MaxRetries.
func (c *Client) Complete(ctx context.Context, req routing.Request) (routing.Response, error) {
	body := chatRequest{Model: c.model, Temperature: req.Temperature, MaxTokens: req.MaxTokens}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return routing.Response{}, apperr.Wrap(apperr.Internal, "gateway: encode request", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.baseDelay),
			backoff.WithMaxInterval(c.maxDelay),
		), c.maxRetries), ctx)

	var parsed chatResponse
	err = backoff.Retry(func() error {
		out, retryable, callErr := c.doRequest(ctx, payload)
		if callErr != nil {
			if !retryable {
				return backoff.Permanent(callErr)
			}
			return callErr
		}
		parsed = out
		return nil
	}, policy)
	if err != nil {
		return routing.Response{}, classify(err)
	}
	if len(parsed.Choices) == 0 {
		return routing.Response{}, apperr.New(apperr.ProviderUnavailable, "gateway: empty choices in response")
	}

	return routing.Response{
		Text:      parsed.Choices[0].Message.Content,
		Model:     c.model,
		TokensIn:  parsed.Usage.PromptTokens,
		TokensOut: parsed.Usage.CompletionTokens,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, payload []byte) (chatResponse, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return chatResponse{}, true, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatResponse{}, true, err
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return chatResponse{}, true, fmt.Errorf("gateway: status %d: %s", resp.StatusCode, data)
	}
	if resp.StatusCode >= 400 {
		return chatResponse{}, false, fmt.Errorf("gateway: status %d: %s", resp.StatusCode, data)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return chatResponse{}, false, err
	}
	return parsed, false, nil
}

func classify(err error) error {
	return apperr.Wrap(apperr.ProviderUnavailable, "gateway: request failed after retries", err)
}
