package llm

import (
	"context"
	"errors"
	"net"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/types"
)

// AnthropicProvider adapts the Anthropic Messages API.
type AnthropicProvider struct{}

func (AnthropicProvider) Name() string { return "anthropic" }

func (p AnthropicProvider) Call(ctx context.Context, req Request) (*Response, error) {
	apiKey := config.APIKey("anthropic")
	if apiKey == "" {
		return nil, &types.MissingApiKeyError{Provider: "anthropic", EnvVar: "ANTHROPIC_API_KEY"}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userContent(req))),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	message, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, wrapAnthropicErr(err)
	}
	if len(message.Content) == 0 {
		return nil, &types.LlmProviderError{
			Provider: "anthropic",
			Message:  "response has no content blocks",
			Retry:    true,
		}
	}
	content := message.Content[0]
	if content.Type != "text" {
		return nil, &types.LlmProviderError{
			Provider: "anthropic",
			Message:  "response is not a text block (type=" + string(content.Type) + ")",
			Retry:    true,
		}
	}
	return &Response{
		Text:      content.Text,
		TokensIn:  int(message.Usage.InputTokens),
		TokensOut: int(message.Usage.OutputTokens),
		Raw:       message,
	}, nil
}

// wrapAnthropicErr classifies a provider failure. Rate limits,
// overload, and transient network errors are retriable; other client
// errors are not. Exhausted credits surface as a 400 here, so the
// 4xx-terminal rule covers quota too.
func wrapAnthropicErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	retry := true
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode == 408:
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			retry = false
		}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		retry = true
	}
	return &types.LlmProviderError{
		Provider: "anthropic",
		Message:  err.Error(),
		Retry:    retry,
		Err:      err,
	}
}
