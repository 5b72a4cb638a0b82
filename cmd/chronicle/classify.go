package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/classify"
	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/types"
)

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Label a batch's atoms by category",
	Long: `Classify every unlabeled atom of an import batch under a
(model, prompt version) pair. The default stub mode is deterministic
and free; real mode calls the configured LLM provider per atom.

Labels are immutable: re-running with the same model and prompt
version only fills gaps.

Examples:
  chronicle classify --batch <batchId>
  chronicle classify --batch <batchId> --mode real --model gpt-4o-mini --prompt-version <pvId>`,
	Run: func(cmd *cobra.Command, args []string) {
		batchID, _ := cmd.Flags().GetString("batch")
		model, _ := cmd.Flags().GetString("model")
		pvID, _ := cmd.Flags().GetString("prompt-version")
		mode, _ := cmd.Flags().GetString("mode")
		if batchID == "" {
			fail(types.Invalidf("--batch is required"))
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		in := classify.Input{
			ImportBatchID:   batchID,
			Model:           model,
			PromptVersionID: pvID,
			Mode:            types.ClassifyMode(mode),
		}
		if in.Mode == "" {
			in.Mode = types.ClassifyStub
		}
		if in.Model == "" {
			in.Model = types.StubModel
		}
		if in.PromptVersionID == "" {
			in.PromptVersionID = sqlite.StubClassifyVersionID
		}
		if in.Mode == types.ClassifyReal {
			snapshot, err := llm.Snapshot(in.Model, time.Now())
			if err != nil {
				fail(err)
			}
			policy := llm.BudgetPolicy{
				MaxUsdPerRun: config.MaxUsdPerRun(),
				MaxUsdPerDay: config.MaxUsdPerDay(),
			}
			in.Client = llm.NewClient(snapshot, policy, func(ctx context.Context) (float64, error) {
				return store.DaySpendUsd(ctx, time.Now().UTC().Format("2006-01-02"))
			})
		}

		cr, err := classify.ClassifyBatch(ctx, store, in)
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"classifyRunId": cr.ID,
				"totalAtoms":    cr.TotalAtoms,
				"newlyLabeled":  cr.NewlyLabeled,
				"skipped":       cr.SkippedAlreadyLabeled,
				"labeledTotal":  cr.LabeledTotal,
				"costUsd":       cr.CostUsd,
			})
			return
		}
		fmt.Printf("Classified batch %s: %d newly labeled, %d already labeled, %d total (%.4f USD)\n",
			batchID, cr.NewlyLabeled, cr.SkippedAlreadyLabeled, cr.LabeledTotal, cr.CostUsd)
	},
}

func init() {
	classifyCmd.Flags().String("batch", "", "Import batch to classify (required)")
	classifyCmd.Flags().String("model", "", "Model for labels (default: stub)")
	classifyCmd.Flags().String("prompt-version", "", "Classify prompt version id (default: the seeded stub version)")
	classifyCmd.Flags().String("mode", "stub", "Classification mode: stub or real")
	rootCmd.AddCommand(classifyCmd)
}
