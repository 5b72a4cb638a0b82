package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/debuglog"
	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

// watchSettleDelay lets export tools finish writing before we read.
const watchSettleDelay = 500 * time.Millisecond

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Watch a directory and import new export files",
	Long: `Watch a directory for new .jsonl export files and import each one
as it appears. Imports are idempotent, so re-dropped files only add
messages not seen before. Stop with Ctrl-C.

Example:
  chronicle watch ~/Downloads/chat-exports --source chatgpt`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		source, _ := cmd.Flags().GetString("source")
		timezone, _ := cmd.Flags().GetString("timezone")
		if timezone == "" {
			timezone = config.DefaultTimezone()
		}

		dir := args[0]
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			fail(err)
		}
		defer func() { _ = watcher.Close() }()
		if err := watcher.Add(dir); err != nil {
			fail(err)
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		fmt.Printf("Watching %s for .jsonl files\n", dir)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".jsonl") {
					continue
				}
				time.Sleep(watchSettleDelay)
				importWatchedFile(ctx, store, ev.Name, source, timezone)
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fmt.Fprintf(os.Stderr, "Watch error: %v\n", werr)
			case <-sigCh:
				fmt.Println("\nStopping watch")
				return
			}
		}
	},
}

func importWatchedFile(ctx context.Context, store storage.Storage, path, source, timezone string) {
	msgs, size, err := readMessagesFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", path, err)
		return
	}
	res, err := ingest.ImportExport(ctx, store, msgs, ingest.Options{
		Filename:       filepath.Base(path),
		FileSizeBytes:  size,
		Timezone:       timezone,
		SourceOverride: types.Source(source),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import of %s failed: %v\n", path, err)
		return
	}
	debuglog.Printf("watch: imported %s as batch %s", path, res.BatchID)
	fmt.Printf("Imported %s: batch %s, %d new messages (%d duplicates skipped)\n",
		filepath.Base(path), res.BatchID, res.Inserted, res.Skipped)
}

func init() {
	watchCmd.Flags().String("source", "", "Force all messages to this source")
	watchCmd.Flags().String("timezone", "", "IANA timezone for day boundaries")
	rootCmd.AddCommand(watchCmd)
}
