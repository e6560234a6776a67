package adapters

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// MessagesClient is the subset of the Anthropic SDK used by the adapter.
// *sdk.MessageService satisfies it.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicAdapter sends inference requests to the Claude Messages API.
type AnthropicAdapter struct {
	msg       MessagesClient
	model     string
	maxTokens int64
}

// AnthropicOption configures an AnthropicAdapter.
type AnthropicOption func(*AnthropicAdapter)

// WithMaxTokens sets the completion cap. Defaults to 1024.
func WithMaxTokens(n int64) AnthropicOption {
	return func(a *AnthropicAdapter) {
		a.maxTokens = n
	}
}

// NewAnthropicAdapter builds an adapter from a Messages client and a model id.
func NewAnthropicAdapter(msg MessagesClient, model string, opts ...AnthropicOption) (*AnthropicAdapter, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	a := &AnthropicAdapter{msg: msg, model: model, maxTokens: 1024}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// NewAnthropicFromAPIKey builds the SDK client and the adapter.
func NewAnthropicFromAPIKey(apiKey, model string, opts ...AnthropicOption) (*AnthropicAdapter, error) {
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicAdapter(&client.Messages, model, opts...)
}

// Infer implements dragonscale.InferenceAdapter.
func (a *AnthropicAdapter) Infer(ctx context.Context, req ds.InferenceRequest) (string, error) {
	params := sdk.MessageNewParams{
		MaxTokens: a.maxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Model:     sdk.Model(a.model),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	msg, err := a.msg.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic: messages.new failed: %w", err)
	}
	if msg == nil {
		return "", errors.New("anthropic: response message is nil")
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", errors.New("anthropic: response has no text content")
	}
	return b.String(), nil
}
