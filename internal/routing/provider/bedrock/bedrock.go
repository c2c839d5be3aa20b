// Package bedrock adapts routing.Client to Amazon Bedrock's Converse API
// via aws-sdk-go-v2, giving the router a lower-cost provider tier for
// non-premium requests.
package bedrock

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/lawercase/petition-orchestrator/internal/apperr"
	"github.com/lawercase/petition-orchestrator/internal/routing"
)

// Client wraps a bedrockruntime.Client for one model ID.
type Client struct {
	api     *bedrockruntime.Client
	modelID string
}

// New builds a Client bound to an already-configured Bedrock runtime
// client (the caller resolves AWS credentials/region via
// config.LoadDefaultConfig, outside this package).
func New(api *bedrockruntime.Client, modelID string) *Client {
	return &Client{api: api, modelID: modelID}
}

// Complete sends req as one Converse call, mapping system-role messages
// to Bedrock's dedicated system field.
func (c *Client) Complete(ctx context.Context, req routing.Request) (routing.Response, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(c.modelID),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(maxTokensOrDefault(req.MaxTokens))),
		},
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	for _, m := range req.Messages {
		if m.Role == "system" {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := types.ConversationRoleUser
		if m.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		input.Messages = append(input.Messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return routing.Response{}, classify(err)
	}

	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return routing.Response{}, apperr.New(apperr.ProviderUnavailable, "bedrock: response had no message output")
	}
	var text string
	for _, block := range msgOut.Value.Content {
		if tb, ok := block.(*types.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}

	resp := routing.Response{Text: text, Model: c.modelID}
	if out.Usage != nil {
		resp.TokensIn = int(aws.ToInt32(out.Usage.InputTokens))
		resp.TokensOut = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return resp, nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 1024
	}
	return n
}

// classify maps a Bedrock/smithy error to a retryable or terminal
// apperr.Error so routing.Router knows whether to fall back.
func classify(err error) error {
	var throttled *types.ThrottlingException
	if errors.As(err, &throttled) {
		return apperr.Wrap(apperr.ProviderUnavailable, "bedrock: throttled", err)
	}
	var unavailable *types.ServiceUnavailableException
	if errors.As(err, &unavailable) {
		return apperr.Wrap(apperr.ProviderUnavailable, "bedrock: service unavailable", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException":
			return apperr.Wrap(apperr.ProviderUnavailable, "bedrock: "+apiErr.ErrorCode(), err)
		}
	}
	return apperr.Wrap(apperr.Internal, "bedrock: request failed", err)
}
