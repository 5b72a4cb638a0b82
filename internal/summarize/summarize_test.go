package summarize

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/types"
)

func TestSummarizeRejectsEmptyBundle(t *testing.T) {
	client := llm.NewClient(nil, llm.BudgetPolicy{}, nil)
	_, err := Summarize(context.Background(), client, Input{Model: types.StubModel})
	var invalid *types.InvalidInputError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

func TestSummarizeStub(t *testing.T) {
	client := llm.NewClient(nil, llm.BudgetPolicy{}, nil)
	res, err := Summarize(context.Background(), client, Input{
		BundleText: "# 2025-05-01\n\nsome bundle text",
		Model:      types.StubModel,
	})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if !strings.Contains(res.Text, "Summary (stub)") {
		t.Fatalf("text = %q", res.Text)
	}
	if res.CostUsd != 0 || res.TokensIn != 0 || res.TokensOut != 0 {
		t.Fatalf("stub accounting = %+v", res)
	}
}
