package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status <runId>",
	Short: "Show a run's jobs, spend, and token totals",
	Args:  cobra.ExactArgs(1),
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
		jobs, err := store.ListJobs(ctx, r.ID)
		if err != nil {
			fail(err)
		}
		spend, err := store.RunSpendUsd(ctx, r.ID)
		if err != nil {
			fail(err)
		}
		tokensIn, tokensOut, err := store.RunTokenTotals(ctx, r.ID)
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			jobList := make([]map[string]any, 0, len(jobs))
			for _, j := range jobs {
				entry := map[string]any{
					"dayDate":   j.DayDate,
					"status":    string(j.Status),
					"attempt":   j.Attempt,
					"tokensIn":  j.TokensIn,
					"tokensOut": j.TokensOut,
					"costUsd":   j.CostUsd,
				}
				if j.Error != nil {
					entry["error"] = j.Error
				}
				jobList = append(jobList, entry)
			}
			outputJSON(map[string]any{
				"runId":     r.ID,
				"status":    string(r.Status),
				"model":     r.Model,
				"startDate": r.StartDate,
				"endDate":   r.EndDate,
				"spendUsd":  spend,
				"tokensIn":  tokensIn,
				"tokensOut": tokensOut,
				"jobs":      jobList,
			})
			return
		}
		fmt.Print(ui.RenderRunStatus(r, jobs, spend, tokensIn, tokensOut))
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
