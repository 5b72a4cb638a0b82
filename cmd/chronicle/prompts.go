package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

var promptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "Manage prompt versions",
}

var promptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prompt versions for a stage",
	Run: func(cmd *cobra.Command, args []string) {
		stage, _ := cmd.Flags().GetString("stage")

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		versions, err := store.ListPromptVersions(ctx, types.PromptStage(stage))
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			list := make([]map[string]any, 0, len(versions))
			for _, v := range versions {
				list = append(list, map[string]any{
					"id":           v.ID,
					"stage":        string(v.Stage),
					"versionLabel": v.VersionLabel,
					"isActive":     v.IsActive,
				})
			}
			outputJSON(list)
			return
		}
		for _, v := range versions {
			marker := " "
			if v.IsActive {
				marker = "*"
			}
			fmt.Printf("%s %s  %s  %s\n", marker, v.ID, v.Stage, v.VersionLabel)
		}
	},
}

var promptsActivateCmd = &cobra.Command{
	Use:   "activate <versionId>",
	Short: "Make a prompt version the active one for its stage",
	Long: `Activate a prompt version. Exactly one version per stage is active;
activating one deactivates the rest. Existing runs are unaffected:
their config froze the version id at creation.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		pv, err := store.GetPromptVersion(ctx, args[0])
		if err != nil {
			fail(err)
		}
		err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
			return tx.SetPromptVersionActive(ctx, pv.Stage, pv.ID)
		})
		if err != nil {
			fail(err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"id": pv.ID, "stage": string(pv.Stage), "status": "active"})
			return
		}
		fmt.Printf("Activated %s for stage %s\n", pv.ID, pv.Stage)
	},
}

func init() {
	promptsListCmd.Flags().String("stage", "summarize", "Prompt stage: classify, summarize, redact")
	promptsCmd.AddCommand(promptsListCmd)
	promptsCmd.AddCommand(promptsActivateCmd)
	rootCmd.AddCommand(promptsCmd)
}
