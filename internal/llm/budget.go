package llm

import (
	"context"
	"fmt"

	"github.com/untoldecay/chronicle/internal/types"
)

// BudgetPolicy carries the hard caps. Zero means unlimited.
type BudgetPolicy struct {
	MaxUsdPerRun float64
	MaxUsdPerDay float64
}

// BudgetCheck is one pre- or post-call assertion.
type BudgetCheck struct {
	NextCostUsd   float64
	SpentUsdSoFar float64
	Policy        BudgetPolicy
	// DaySpendUsd returns the live UTC-calendar-day aggregate across
	// all runs; nil disables the day check.
	DaySpendUsd func(ctx context.Context) (float64, error)
}

// AssertWithinBudget rejects any call that would push the run past
// MaxUsdPerRun or the calendar day past MaxUsdPerDay. Violations are
// non-retriable.
func AssertWithinBudget(ctx context.Context, c BudgetCheck) error {
	projected := c.SpentUsdSoFar + c.NextCostUsd
	if c.Policy.MaxUsdPerRun > 0 && projected > c.Policy.MaxUsdPerRun {
		return &types.BudgetExceededError{
			Message:  fmt.Sprintf("run budget exceeded: %.4f USD projected, cap %.4f", projected, c.Policy.MaxUsdPerRun),
			SpentUsd: c.SpentUsdSoFar,
			LimitUsd: c.Policy.MaxUsdPerRun,
		}
	}
	if c.Policy.MaxUsdPerDay > 0 && c.DaySpendUsd != nil {
		daySpent, err := c.DaySpendUsd(ctx)
		if err != nil {
			return err
		}
		if daySpent+c.NextCostUsd > c.Policy.MaxUsdPerDay {
			return &types.BudgetExceededError{
				Message:  fmt.Sprintf("daily budget exceeded: %.4f USD projected, cap %.4f", daySpent+c.NextCostUsd, c.Policy.MaxUsdPerDay),
				SpentUsd: daySpent,
				LimitUsd: c.Policy.MaxUsdPerDay,
			}
		}
	}
	return nil
}
