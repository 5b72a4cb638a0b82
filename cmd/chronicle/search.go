package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/search"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
	"github.com/untoldecay/chronicle/internal/ui"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over atoms or outputs",
	Long: `Search raw messages (default) or summaries. Matches are ranked;
snippets highlight matched terms with <<...>>.

Category filters need label context: pass --label-model and
--label-prompt-version, or --run to use that run's frozen label spec.

Examples:
  chronicle search "kubernetes"
  chronicle search "side project" --scope outputs --run <runId>
  chronicle search "standup" --category WORK --run <runId>
  chronicle search "trip" --from 2025-01-01 --to 2025-02-01 --source chatgpt`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		scope, _ := cmd.Flags().GetString("scope")
		batchID, _ := cmd.Flags().GetString("batch")
		runID, _ := cmd.Flags().GetString("run")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		sources, _ := cmd.Flags().GetStringSlice("source")
		categories, _ := cmd.Flags().GetStringSlice("category")
		labelModel, _ := cmd.Flags().GetString("label-model")
		labelPV, _ := cmd.Flags().GetString("label-prompt-version")
		limit, _ := cmd.Flags().GetInt("limit")
		cursor, _ := cmd.Flags().GetString("cursor")

		q := search.Query{
			Scope:         storage.SearchScope(scope),
			Text:          strings.Join(args, " "),
			ImportBatchID: batchID,
			RunID:         runID,
			StartDate:     from,
			EndDate:       to,
			Limit:         limit,
			Cursor:        cursor,
		}
		for _, s := range sources {
			q.Sources = append(q.Sources, types.Source(strings.ToLower(s)))
		}
		for _, c := range categories {
			q.Categories = append(q.Categories, types.Category(strings.ToUpper(c)))
		}
		if labelModel != "" || labelPV != "" {
			q.LabelSpec = &types.LabelSpec{Model: labelModel, PromptVersionID: labelPV}
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		res, err := search.Search(ctx, store, q)
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			outputJSON(res)
			return
		}
		if len(res.Hits) == 0 {
			fmt.Println("No matches.")
			return
		}
		for _, h := range res.Hits {
			var where string
			if h.Source != "" {
				where = fmt.Sprintf("%s %s %s", h.DayDate, h.Source, h.Role)
			} else {
				where = fmt.Sprintf("run %s %s", h.RunID, h.Stage)
			}
			fmt.Printf("%s  %s\n", ui.HeaderStyle.Render(where), ui.MutedStyle.Render(fmt.Sprintf("rank %.3f", h.Rank)))
			fmt.Printf("  %s\n", h.Snippet)
		}
		if res.NextCursor != "" {
			fmt.Printf("\nMore results: --cursor %s\n", res.NextCursor)
		}
	},
}

func init() {
	searchCmd.Flags().String("scope", "raw", "Search scope: raw or outputs")
	searchCmd.Flags().String("batch", "", "Restrict to one import batch")
	searchCmd.Flags().String("run", "", "Restrict to one run (outputs scope) or resolve label context")
	searchCmd.Flags().String("from", "", "Start day (YYYY-MM-DD, inclusive)")
	searchCmd.Flags().String("to", "", "End day (YYYY-MM-DD, inclusive)")
	searchCmd.Flags().StringSlice("source", nil, "Restrict to sources")
	searchCmd.Flags().StringSlice("category", nil, "Restrict to categories (needs label context)")
	searchCmd.Flags().String("label-model", "", "Label spec model for category filters")
	searchCmd.Flags().String("label-prompt-version", "", "Label spec prompt version id")
	searchCmd.Flags().Int("limit", 20, "Page size (max 100)")
	searchCmd.Flags().String("cursor", "", "Continue from a previous page's cursor")
	rootCmd.AddCommand(searchCmd)
}
