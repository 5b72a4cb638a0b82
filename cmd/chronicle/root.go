package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
)

var (
	dbPath     string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "chronicle",
	Short: "Turn AI-chat exports into per-day journal summaries",
	Long: `chronicle ingests exported AI-chat transcripts (ChatGPT, Claude, Grok),
classifies the messages, bundles each day's user messages, summarises
them with an LLM, and renders the result as a committable file tree.

Typical flow:
  chronicle import export.jsonl --source chatgpt --timezone Europe/Paris
  chronicle classify --batch <batchId>
  chronicle run create --model stub --from "last monday" --to today --batch <batchId>
  chronicle run tick <runId>
  chronicle export <runId> --out ./journal`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := config.Initialize(); err != nil {
			fail(err)
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: $CHRONICLE_DB or ~/.chronicle/chronicle.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")
}

// openStore opens the SQLite store for the effective database path.
// Callers own Close.
func openStore(ctx context.Context) (storage.Storage, error) {
	path := dbPath
	if path == "" {
		path = config.DBPath()
	}
	return sqlite.New(ctx, path)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// fail prints a typed error and exits non-zero. JSON mode emits a
// {code, message} object on stdout for scripting.
func fail(err error) {
	if jsonOutput {
		code := "INTERNAL"
		if c, ok := err.(interface{ Code() string }); ok {
			code = c.Code()
		}
		outputJSON(map[string]string{"code": code, "message": err.Error()})
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
