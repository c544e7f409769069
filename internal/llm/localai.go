package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentoven/conductor/pkg/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// LocalAIDriver talks to any OpenAI-compatible endpoint (LocalAI, vLLM, Ollama).
// Models are addressed as "localai/<model>".
type LocalAIDriver struct {
	client *goopenai.Client
}

func NewLocalAIDriver(baseURL, apiKey string) *LocalAIDriver {
	cfg := goopenai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &LocalAIDriver{client: goopenai.NewClientWithConfig(cfg)}
}

func (d *LocalAIDriver) Kind() string { return "localai" }

func (d *LocalAIDriver) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := goopenai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = goopenai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := d.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    msgs,
		Stop:        req.Stop,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Provider: d.Kind(), Code: apiErr.HTTPStatusCode, Err: err}
		}
		var reqErr *goopenai.RequestError
		if errors.As(err, &reqErr) {
			return nil, &StatusError{Provider: d.Kind(), Code: reqErr.HTTPStatusCode, Err: err}
		}
		return nil, fmt.Errorf("localai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("localai: empty response")
	}
	return &models.CompletionResponse{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
	}, nil
}
