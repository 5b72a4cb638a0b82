// Package summarize turns one bundle (or bundle segment) into summary
// text through the shared LLM client.
package summarize

import (
	"context"

	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/types"
)

// Input is one summarisation request: the rendered bundle text plus
// the run-frozen model and prompt template.
type Input struct {
	BundleText   string
	Model        string
	TemplateText string
	MaxTokens    int
}

// Result carries the summary text and its accounting.
type Result struct {
	Text      string
	TokensIn  int
	TokensOut int
	CostUsd   float64
}

// Summarize produces the summary for one bundle text. The stub model
// short-circuits inside the client with zero cost and a text containing
// "Summary (stub)"; real models go through rate limiting and the budget
// guard.
func Summarize(ctx context.Context, client *llm.Client, in Input) (*Result, error) {
	if in.BundleText == "" {
		return nil, types.Invalidf("empty bundle text")
	}
	resp, cost, err := client.Call(ctx, llm.Request{
		Model:     in.Model,
		System:    in.TemplateText,
		Messages:  []llm.Message{{Role: "user", Content: in.BundleText}},
		MaxTokens: in.MaxTokens,
	})
	if err != nil {
		// A post-call budget violation still spent money; surface it so
		// the job records the cost.
		return &Result{CostUsd: cost}, err
	}
	return &Result{
		Text:      resp.Text,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUsd:   cost,
	}, nil
}
