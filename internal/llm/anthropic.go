package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/conductor/pkg/models"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 2048

// AnthropicDriver calls the Anthropic Messages API.
type AnthropicDriver struct {
	client anthropic.Client
}

func NewAnthropicDriver(apiKey string, opts ...option.RequestOption) *AnthropicDriver {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}, opts...)
	return &AnthropicDriver{client: anthropic.NewClient(opts...)}
}

func (d *AnthropicDriver) Kind() string { return "anthropic" }

func (d *AnthropicDriver) Complete(ctx context.Context, req models.CompletionRequest) (*models.CompletionResponse, error) {
	// The Messages API requires alternating roles starting with user;
	// consecutive same-role messages are merged.
	var msgs []anthropic.MessageParam
	var lastRole string
	var buf []string
	flush := func() {
		if len(buf) == 0 {
			return
		}
		text := anthropic.NewTextBlock(strings.Join(buf, "\n\n"))
		if lastRole == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(text))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(text))
		}
		buf = nil
	}
	for _, m := range req.Messages {
		role := m.Role
		if role != "assistant" {
			role = "user"
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		buf = append(buf, m.Content)
	}
	flush()

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	resp, err := d.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{Provider: d.Kind(), Code: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var out strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return &models.CompletionResponse{
		Content:      out.String(),
		Model:        string(resp.Model),
		FinishReason: string(resp.StopReason),
	}, nil
}
