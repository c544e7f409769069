package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIDriver calls the OpenAI chat completions API.
type OpenAIDriver struct {
	client openai.Client
}

func NewOpenAIDriver(apiKey string, opts ...option.RequestOption) *OpenAIDriver {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &OpenAIDriver{client: openai.NewClient(opts...)}
}

func (d *OpenAIDriver) Kind() string { return "openai" }

func (d *OpenAIDriver) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(req.Model),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := d.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Provider: d.Kind(), Code: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty response")
	}

	return &models.CompletionResponse{
		Content:      truncateAtStop(resp.Choices[0].Message.Content, req.Stop),
		Model:        resp.Model,
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
