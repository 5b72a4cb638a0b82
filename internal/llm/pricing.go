package llm

import (
	_ "embed"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/types"
)

//go:embed pricing.toml
var pricingTOML []byte

type pricingBook struct {
	Models map[string]pricingEntry `toml:"models"`
}

type pricingEntry struct {
	Provider            string  `toml:"provider"`
	InputPer1MUsd       float64 `toml:"input_per_1m_usd"`
	OutputPer1MUsd      float64 `toml:"output_per_1m_usd"`
	CachedInputPer1MUsd float64 `toml:"cached_input_per_1m_usd"`
}

var (
	bookOnce sync.Once
	book     pricingBook
	bookErr  error
)

func loadBook() (pricingBook, error) {
	bookOnce.Do(func() {
		bookErr = toml.Unmarshal(pricingTOML, &book)
	})
	return book, bookErr
}

// Rates returns the price card for a model. Unknown non-stub models
// yield UnknownModelPricingError; the stub model has zero rates.
func Rates(model string) (types.PricingRates, error) {
	b, err := loadBook()
	if err != nil {
		return types.PricingRates{}, err
	}
	e, ok := b.Models[model]
	if !ok {
		if model == types.StubModel {
			return types.PricingRates{Provider: "stub"}, nil
		}
		return types.PricingRates{}, &types.UnknownModelPricingError{Model: model}
	}
	return types.PricingRates{
		Provider:            e.Provider,
		InputPer1MUsd:       e.InputPer1MUsd,
		OutputPer1MUsd:      e.OutputPer1MUsd,
		CachedInputPer1MUsd: e.CachedInputPer1MUsd,
	}, nil
}

// Snapshot freezes a model's rates for a run config.
func Snapshot(model string, at time.Time) (*types.PricingSnapshot, error) {
	rates, err := Rates(model)
	if err != nil {
		return nil, err
	}
	return &types.PricingSnapshot{
		Model:      model,
		Rates:      rates,
		CapturedAt: hashing.ToCanonicalTs(at),
	}, nil
}

// Cost computes the USD cost of a call from a frozen snapshot. The
// snapshot governs even if the live book has changed since the run was
// created.
func Cost(snap *types.PricingSnapshot, tokensIn, tokensOut int) float64 {
	if snap == nil {
		return 0
	}
	return float64(tokensIn)/1e6*snap.Rates.InputPer1MUsd +
		float64(tokensOut)/1e6*snap.Rates.OutputPer1MUsd
}

// EstimateTokens approximates the token count of a string as
// ceil(len/4). Shared by the segmenter and the budget pre-checks.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}
