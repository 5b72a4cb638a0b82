package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/types"
	"github.com/untoldecay/chronicle/internal/ui"
)

var showCmd = &cobra.Command{
	Use:   "show <runId> <day>",
	Short: "Show one day's summary",
	Long: `Print the summarize output for one day of a run. Markdown is
rendered for terminals; use --raw (or pipe the output) for the exact
stored text.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		raw, _ := cmd.Flags().GetBool("raw")

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		runID, day := args[0], args[1]
		job, err := store.GetJobByDay(ctx, runID, day)
		if err != nil {
			fail(err)
		}
		if job.Status != types.JobSucceeded {
			fail(types.Invalidf("job for %s is %s, no output yet", day, job.Status))
		}
		out, err := store.GetSummarizeOutput(ctx, job.ID)
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"runId":             runID,
				"dayDate":           day,
				"outputText":        out.OutputText,
				"model":             out.Model,
				"promptVersionId":   out.PromptVersionID,
				"bundleHash":        out.BundleHash,
				"bundleContextHash": out.BundleContextHash,
				"meta":              out.Meta,
			})
			return
		}
		if raw || !ui.IsTerminal() {
			fmt.Println(out.OutputText)
			return
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(ui.GetWidth()),
		)
		if err != nil {
			fmt.Println(out.OutputText)
			return
		}
		rendered, err := r.Render(out.OutputText)
		if err != nil {
			fmt.Println(out.OutputText)
			return
		}
		fmt.Print(rendered)
	},
}

func init() {
	showCmd.Flags().Bool("raw", false, "Print the stored text without markdown rendering")
	rootCmd.AddCommand(showCmd)
}
