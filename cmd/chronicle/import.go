package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/types"
)

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import a parsed chat export as a new batch",
	Long: `Import a JSONL file of parsed messages as one immutable batch.

Each line is one message:
  {"source":"chatgpt","conversationId":"c1","messageId":"m1",
   "timestamp":"2025-01-02T10:00:00Z","role":"user","text":"..."}

Duplicates of previously imported messages are skipped, never
overwritten. Day boundaries are computed in the batch timezone.

Examples:
  chronicle import export.jsonl --source chatgpt
  chronicle import export.jsonl --timezone Europe/Paris`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		timezone, _ := cmd.Flags().GetString("timezone")
		if timezone == "" {
			timezone = config.DefaultTimezone()
		}

		path := args[0]
		msgs, size, err := readMessagesFile(path)
		if err != nil {
			fail(err)
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		res, err := ingest.ImportExport(ctx, store, msgs, ingest.Options{
			Filename:       filepath.Base(path),
			FileSizeBytes:  size,
			Timezone:       timezone,
			SourceOverride: types.Source(source),
		})
		if err != nil {
			fail(err)
		}

		if jsonOutput {
			outputJSON(map[string]any{
				"batchId":  res.BatchID,
				"inserted": res.Inserted,
				"skipped":  res.Skipped,
				"stats":    res.Stats,
				"warnings": res.Warnings,
			})
			return
		}
		fmt.Printf("Imported batch %s: %d messages over %d days (%d duplicates skipped)\n",
			res.BatchID, res.Inserted, res.Stats.DayCount, res.Skipped)
		for _, w := range res.Warnings {
			fmt.Printf("Warning: %s\n", w)
		}
	},
}

// jsonlMessage is the line format of a parsed export file.
type jsonlMessage struct {
	Source         string `json:"source"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Timestamp      string `json:"timestamp"`
	Role           string `json:"role"`
	Text           string `json:"text"`
}

func readMessagesFile(path string) ([]types.ParsedMessage, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}

	var msgs []types.ParsedMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m jsonlMessage
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, 0, types.Invalidf("line %d: %v", lineNo, err)
		}
		ts, err := time.Parse(time.RFC3339, m.Timestamp)
		if err != nil {
			return nil, 0, types.Invalidf("line %d: bad timestamp %q", lineNo, m.Timestamp)
		}
		msgs = append(msgs, types.ParsedMessage{
			Source:               types.Source(m.Source),
			SourceConversationID: m.ConversationID,
			SourceMessageID:      m.MessageID,
			TimestampUTC:         ts.UTC(),
			Role:                 types.Role(m.Role),
			Text:                 m.Text,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, err
	}
	return msgs, info.Size(), nil
}

func init() {
	importCmd.Flags().String("source", "", "Force all messages to this source (chatgpt, claude, grok)")
	importCmd.Flags().String("timezone", "", "IANA timezone for day boundaries (default: CHRONICLE_TZ or UTC)")
	rootCmd.AddCommand(importCmd)
}
