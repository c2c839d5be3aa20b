// Package anthropic adapts routing.Client to the Anthropic Messages API
// via the official anthropic-sdk-go client.
package anthropic

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/routing"
)

// Client wraps an anthropic.Client for one model.
type Client struct {
	api   anthropic.Client
	model anthropic.Model
}

// New builds a Client for modelID (e.g. anthropic.ModelClaudeSonnet4_5)
// authenticated with apiKey.
func New(apiKey string, modelID anthropic.Model) *Client {
	return &Client{
		api:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: modelID,
	}
}

// Complete sends req as a single Messages.New call, concatenating
// system-role messages into Anthropic's dedicated system parameter and
// mapping the remaining turns to user/assistant message params.
func (c *Client) Complete(ctx context.Context, req routing.Request) (routing.Response, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}

	var system string
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case "assistant":
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	msg, err := c.api.Messages.New(ctx, params)
	if err != nil {
		return routing.Response{}, classify(err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return routing.Response{
		Text:      text,
		Model:     string(c.model),
		TokensIn:  int(msg.Usage.InputTokens),
		TokensOut: int(msg.Usage.OutputTokens),
	}, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

// classify maps an Anthropic SDK error to a retryable or terminal
// apperr.Error so routing.Router knows whether to fall back.
func classify(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 529:
			return apperr.Wrap(apperr.ProviderUnavailable, "anthropic: request failed", err)
		}
	}
	return apperr.Wrap(apperr.Internal, "anthropic: request failed", err)
}
