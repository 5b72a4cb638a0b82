package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/run"
	"github.com/untoldecay/chronicle/internal/tick"
	"github.com/untoldecay/chronicle/internal/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create and drive summarisation runs",
}

var runCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a run over a date range",
	Long: `Create a summarisation run. The run freezes its configuration
(prompt versions, label spec, filter, pricing) at creation; one queued
job is created per day that has at least one filter-passing user
message.

Dates accept YYYY-MM-DD or natural language ("last monday", "today").

Examples:
  chronicle run create --model stub --from 2025-01-01 --to 2025-01-31 --batch <batchId>
  chronicle run create --model claude-3-5-haiku-20241022 --from "two weeks ago" --to today --batch <batchId>`,
	Run: func(cmd *cobra.Command, args []string) {
		model, _ := cmd.Flags().GetString("model")
		fromRaw, _ := cmd.Flags().GetString("from")
		toRaw, _ := cmd.Flags().GetString("to")
		batches, _ := cmd.Flags().GetStringSlice("batch")
		sources, _ := cmd.Flags().GetStringSlice("source")
		filterID, _ := cmd.Flags().GetString("filter")
		maxInput, _ := cmd.Flags().GetInt("max-input-tokens")
		labelModel, _ := cmd.Flags().GetString("label-model")
		labelPV, _ := cmd.Flags().GetString("label-prompt-version")

		from, err := parseDay(fromRaw)
		if err != nil {
			fail(err)
		}
		to, err := parseDay(toRaw)
		if err != nil {
			fail(err)
		}

		var srcs []types.Source
		for _, s := range sources {
			srcs = append(srcs, types.Source(strings.ToLower(s)))
		}

		var labelSpec *types.LabelSpec
		if labelModel != "" || labelPV != "" {
			labelSpec = &types.LabelSpec{Model: labelModel, PromptVersionID: labelPV}
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		r, err := run.Create(ctx, store, run.CreateInput{
			Model:           model,
			StartDate:       from,
			EndDate:         to,
			Sources:         srcs,
			ImportBatchIDs:  batches,
			FilterProfileID: filterID,
			LabelSpec:       labelSpec,
			MaxInputTokens:  maxInput,
		})
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"runId":     r.ID,
				"status":    string(r.Status),
				"startDate": r.StartDate,
				"endDate":   r.EndDate,
				"model":     r.Model,
			})
			return
		}
		fmt.Printf("Created run %s (%s to %s, model %s)\n", r.ID, r.StartDate, r.EndDate, r.Model)
		fmt.Printf("Drive it with: chronicle run tick %s\n", r.ID)
	},
}

var runTickCmd = &cobra.Command{
	Use:   "tick <runId>",
	Short: "Process queued jobs for a run",
	Long: `Process up to --max-jobs queued day jobs (oldest first). At most
one tick per run is in flight at a time; a concurrent tick fails with
TICK_IN_PROGRESS and can simply be retried.

With --all, ticks repeatedly until the run reaches a terminal status.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		maxJobs, _ := cmd.Flags().GetInt("max-jobs")
		all, _ := cmd.Flags().GetBool("all")

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		for {
			p, err := tick.ProcessTick(ctx, store, args[0], maxJobs)
			if err != nil {
				fail(err)
			}
			printProgress(p)
			if !all || terminalRunStatus(p.Status) {
				return
			}
			if len(p.ProcessedDays) == 0 && p.Status == types.RunQueued {
				// Nothing left to drain; avoid spinning.
				return
			}
		}
	},
}

var runCancelCmd = &cobra.Command{
	Use:   "cancel <runId>",
	Short: "Cancel a run",
	Long: `Mark a run cancelled. Cancellation is terminal: queued jobs are
never drained and later ticks only report a snapshot. An in-flight
LLM call completes before cancellation takes effect.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		r, err := store.GetRun(ctx, args[0])
		if err != nil {
			fail(err)
		}
		if terminalRunStatus(r.Status) {
			fail(types.Invalidf("run %s is already %s", r.ID, r.Status))
		}
		if err := store.UpdateRunStatus(ctx, r.ID, types.RunCancelled); err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"runId": r.ID, "status": string(types.RunCancelled)})
			return
		}
		fmt.Printf("Cancelled run %s\n", r.ID)
	},
}

func printProgress(p *tick.Progress) {
	if jsonOutput {
		counts := map[string]int{}
		for s, n := range p.Counts {
			counts[string(s)] = n
		}
		outputJSON(map[string]any{
			"runId":         p.RunID,
			"status":        string(p.Status),
			"counts":        counts,
			"processedDays": p.ProcessedDays,
			"spendUsd":      p.SpendUsd,
		})
		return
	}
	fmt.Printf("Run %s: %s", p.RunID, p.Status)
	if len(p.ProcessedDays) > 0 {
		fmt.Printf(" (processed %s)", strings.Join(p.ProcessedDays, ", "))
	}
	fmt.Printf(" [queued=%d running=%d succeeded=%d failed=%d] %.4f USD\n",
		p.Counts[types.JobQueued], p.Counts[types.JobRunning],
		p.Counts[types.JobSucceeded], p.Counts[types.JobFailed], p.SpendUsd)
}

func terminalRunStatus(s types.RunStatus) bool {
	switch s {
	case types.RunCompleted, types.RunFailed, types.RunCancelled:
		return true
	}
	return false
}

// parseDay accepts YYYY-MM-DD directly and otherwise hands the string
// to the natural-language parser.
func parseDay(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", types.Invalidf("date is required")
	}
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return raw, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	res, err := w.Parse(raw, time.Now())
	if err != nil || res == nil {
		return "", types.Invalidf("cannot parse date %q", raw)
	}
	return res.Time.Format("2006-01-02"), nil
}

func init() {
	runCreateCmd.Flags().String("model", types.StubModel, "Summarisation model")
	runCreateCmd.Flags().String("from", "", "Start date (inclusive)")
	runCreateCmd.Flags().String("to", "", "End date (inclusive)")
	runCreateCmd.Flags().StringSlice("batch", nil, "Import batch id (repeatable)")
	runCreateCmd.Flags().StringSlice("source", nil, "Restrict to sources (chatgpt, claude, grok)")
	runCreateCmd.Flags().String("filter", "", "Filter profile id to snapshot")
	runCreateCmd.Flags().Int("max-input-tokens", 0, "Per-call input token cap before segmentation (default 100000)")
	runCreateCmd.Flags().String("label-model", "", "Label spec model (default: resolved from the active classify version)")
	runCreateCmd.Flags().String("label-prompt-version", "", "Label spec prompt version id")

	runTickCmd.Flags().Int("max-jobs", 1, "Jobs to process this tick")
	runTickCmd.Flags().Bool("all", false, "Keep ticking until the run is terminal")

	runCmd.AddCommand(runCreateCmd)
	runCmd.AddCommand(runTickCmd)
	runCmd.AddCommand(runCancelCmd)
	rootCmd.AddCommand(runCmd)
}
