package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/types"
)

// OpenAIProvider adapts the OpenAI Responses API.
type OpenAIProvider struct{}

func (OpenAIProvider) Name() string { return "openai" }

func (p OpenAIProvider) Call(ctx context.Context, req Request) (*Response, error) {
	apiKey := config.APIKey("openai")
	if apiKey == "" {
		return nil, &types.MissingApiKeyError{Provider: "openai", EnvVar: "OPENAI_API_KEY"}
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: openai.String(userContent(req)),
		},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}
	if req.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := client.Responses.New(ctx, params)
	if err != nil {
		return nil, wrapOpenAIErr(err)
	}
	return &Response{
		Text:      resp.OutputText(),
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
		Raw:       resp,
	}, nil
}

// wrapOpenAIErr classifies a provider failure. Rate limits, overload,
// and server errors are retriable; auth, permission, bad-request, and
// exhausted-quota failures are not. insufficient_quota arrives as a
// 429 but never recovers by retrying.
func wrapOpenAIErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	retry := true
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			retry = apiErr.Code != "insufficient_quota"
		case apiErr.StatusCode == 408:
		case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
			retry = false
		}
	}
	return &types.LlmProviderError{
		Provider: "openai",
		Message:  err.Error(),
		Retry:    retry,
		Err:      err,
	}
}
