// Package openai adapts routing.Client to the OpenAI Chat Completions
// API via the official openai-go client.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/routing"
)

// Client wraps an openai.Client for one chat model.
type Client struct {
	api   openai.Client
	model openai.ChatModel
}

// New builds a Client for modelID authenticated with apiKey.
func New(apiKey string, modelID openai.ChatModel) *Client {
	return &Client{
		api:   openai.NewClient(option.WithAPIKey(apiKey)),
		model: modelID,
	}
}

// Complete sends req as one Chat.Completions.New call.
func (c *Client) Complete(ctx context.Context, req routing.Request) (routing.Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.model,
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			params.Messages = append(params.Messages, openai.SystemMessage(m.Content))
		case "assistant":
			params.Messages = append(params.Messages, openai.AssistantMessage(m.Content))
		default:
			params.Messages = append(params.Messages, openai.UserMessage(m.Content))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return routing.Response{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		return routing.Response{}, apperr.New(apperr.ProviderUnavailable, "openai: empty choices in response")
	}

	return routing.Response{
		Text:      resp.Choices[0].Message.Content,
		Model:     string(c.model),
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
	}, nil
}

// classify maps an OpenAI SDK error to a retryable or terminal
// apperr.Error so routing.Router knows whether to fall back.
func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503:
			return apperr.Wrap(apperr.ProviderUnavailable, "openai: request failed", err)
		}
	}
	return apperr.Wrap(apperr.Internal, "openai: request failed", err)
}
