package llm

import (
	"context"
	"strings"

	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/types"
)

// Message is one turn of a provider request.
type Message struct {
	Role    string
	Content string
}

// Request is the provider-agnostic call shape.
type Request struct {
	Provider    string
	Model       string
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Metadata    map[string]string
}

// Response is the provider-agnostic result. Raw carries the provider
// payload for diagnostics; it is never persisted or logged.
type Response struct {
	Text      string
	TokensIn  int
	TokensOut int
	Raw       any
}

// Provider adapts one vendor API to the common request shape.
type Provider interface {
	Name() string
	Call(ctx context.Context, req Request) (*Response, error)
}

// InferProvider selects the adapter from the model string: claude*
// goes to anthropic, gpt*/o<digit>* to openai, otherwise the
// configured default.
func InferProvider(model string) (string, error) {
	m := strings.ToLower(model)
	switch {
	case m == types.StubModel:
		return "stub", nil
	case strings.HasPrefix(m, "claude"):
		return "anthropic", nil
	case strings.HasPrefix(m, "gpt"):
		return "openai", nil
	case len(m) >= 2 && m[0] == 'o' && m[1] >= '0' && m[1] <= '9':
		return "openai", nil
	}
	if def := config.ProviderDefault(); def != "" {
		return def, nil
	}
	return "", types.Invalidf("cannot infer provider for model %q", model)
}

// userContent joins the user-side turns for providers that take a
// single input string.
func userContent(req Request) string {
	var parts []string
	for _, m := range req.Messages {
		if m.Role == "user" || m.Role == "" {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n\n")
}
