package llm

import (
	"context"
	"fmt"

	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/types"
)

// defaultMaxOutputTokens bounds the output-side cost estimate for the
// pre-call budget check when the request does not cap output.
const defaultMaxOutputTokens = 1024

// Client is the budget- and rate-aware call path shared by classify
// and summarize. One instance lives for the duration of a tick so that
// delays compose FIFO across that tick's jobs; spend recorded in the
// database is what crosses ticks.
type Client struct {
	Limiter   *RateLimiter
	Policy    BudgetPolicy
	Snapshot  *types.PricingSnapshot
	DaySpend  func(ctx context.Context) (float64, error)
	Providers map[string]Provider // injectable for tests

	spentUsdSoFar float64
}

// NewClient builds a client with the real provider adapters and the
// configured rate-limit floor.
func NewClient(snapshot *types.PricingSnapshot, policy BudgetPolicy, daySpend func(ctx context.Context) (float64, error)) *Client {
	return &Client{
		Limiter:  NewRateLimiter(config.MinDelayMs()),
		Policy:   policy,
		Snapshot: snapshot,
		DaySpend: daySpend,
		Providers: map[string]Provider{
			"openai":    OpenAIProvider{},
			"anthropic": AnthropicProvider{},
		},
	}
}

// SpentUsdSoFar reports what this client instance has accumulated.
func (c *Client) SpentUsdSoFar() float64 { return c.spentUsdSoFar }

// AddSpend folds externally recorded spend (existing DB rows) into the
// running total before the first call.
func (c *Client) AddSpend(usd float64) { c.spentUsdSoFar += usd }

// Call performs one provider call: rate-limit, budget pre-check,
// provider, cost from the frozen pricing snapshot (the provider's own
// cost reporting is ignored), budget post-check. The returned cost is
// non-zero whenever a provider call completed, even when the
// post-check fails.
func (c *Client) Call(ctx context.Context, req Request) (*Response, float64, error) {
	if req.Model == types.StubModel {
		// Stub never rate-limits, never spends.
		return &Response{Text: "Summary (stub)", TokensIn: 0, TokensOut: 0}, 0, nil
	}

	if err := c.Limiter.Acquire(ctx); err != nil {
		return nil, 0, err
	}

	estIn := EstimateTokens(req.System + userContent(req))
	estOut := req.MaxTokens
	if estOut <= 0 {
		estOut = defaultMaxOutputTokens
	}
	estCost := Cost(c.Snapshot, estIn, estOut)
	if err := AssertWithinBudget(ctx, BudgetCheck{
		NextCostUsd:   estCost,
		SpentUsdSoFar: c.spentUsdSoFar,
		Policy:        c.Policy,
		DaySpendUsd:   c.DaySpend,
	}); err != nil {
		return nil, 0, err
	}

	if config.LlmMode() != "real" {
		// dry_run: no provider call, no spend.
		return &Response{
			Text:     fmt.Sprintf("(dry run) %s call skipped", req.Model),
			TokensIn: estIn,
		}, 0, nil
	}

	providerName := req.Provider
	if providerName == "" {
		var err error
		providerName, err = InferProvider(req.Model)
		if err != nil {
			return nil, 0, err
		}
	}
	provider, ok := c.Providers[providerName]
	if !ok {
		return nil, 0, types.Invalidf("no adapter for provider %q", providerName)
	}

	resp, err := provider.Call(ctx, req)
	if err != nil {
		return nil, 0, err
	}

	cost := Cost(c.Snapshot, resp.TokensIn, resp.TokensOut)
	c.spentUsdSoFar += cost

	if err := AssertWithinBudget(ctx, BudgetCheck{
		NextCostUsd:   0,
		SpentUsdSoFar: c.spentUsdSoFar,
		Policy:        c.Policy,
		DaySpendUsd:   c.DaySpend,
	}); err != nil {
		return resp, cost, err
	}
	return resp, cost, nil
}
