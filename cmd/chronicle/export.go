package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/untoldecay/chronicle/internal/export"
	"github.com/untoldecay/chronicle/internal/types"
)

var exportCmd = &cobra.Command{
	Use:   "export <runId>",
	Short: "Render a completed run as a file tree",
	Long: `Export a completed run into a byte-stable directory suitable for
committing to a repository. Only a completed run with every job
succeeded can be exported.

Format v2 adds topics/ and, when diffing against a previous export,
changelog.md. The public tier omits the verbatim atoms/ and sources/
directories.

Examples:
  chronicle export <runId> --out ./journal
  chronicle export <runId> --out ./journal --format v2
  chronicle export <runId> --out ./journal --format v2 --diff-against ./journal
  chronicle export <runId> --out ./public-journal --tier public`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		outDir, _ := cmd.Flags().GetString("out")
		format, _ := cmd.Flags().GetString("format")
		tier, _ := cmd.Flags().GetString("tier")
		diffAgainst, _ := cmd.Flags().GetString("diff-against")
		if outDir == "" {
			fail(types.Invalidf("--out is required"))
		}

		opts := export.Options{
			Tier:       tier,
			ExportedAt: time.Now(),
		}
		switch format {
		case "v1", "":
			opts.FormatVersion = export.FormatV1
		case "v2":
			opts.FormatVersion = export.FormatV2
		default:
			fail(types.Invalidf("unknown format %q, want v1 or v2", format))
		}
		if diffAgainst != "" {
			prev, err := os.ReadFile(filepath.Join(diffAgainst, ".journal-meta", "manifest.json"))
			if err != nil {
				fail(types.Invalidf("cannot read previous manifest in %s: %v", diffAgainst, err))
			}
			opts.PreviousManifest = prev
		}

		ctx := context.Background()
		store, err := openStore(ctx)
		if err != nil {
			fail(err)
		}
		defer func() { _ = store.Close() }()

		in, err := export.BuildExportInput(ctx, store, args[0], opts)
		if err != nil {
			fail(err)
		}
		files, err := export.Render(*in)
		if err != nil {
			fail(err)
		}

		if err := writeTree(outDir, files); err != nil {
			fail(err)
		}

		if jsonOutput {
			paths := make([]string, 0, len(files))
			for p := range files {
				paths = append(paths, p)
			}
			sort.Strings(paths)
			outputJSON(map[string]any{"outDir": outDir, "files": paths})
			return
		}
		fmt.Printf("Exported %d files to %s\n", len(files), outDir)
	},
}

// writeTree writes the rendered files under dir, holding a file lock
// so concurrent exports into the same directory cannot interleave.
func writeTree(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	lock := flock.New(filepath.Join(dir, ".journal.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !locked {
		return types.Invalidf("another export is writing to %s", dir)
	}
	defer func() { _ = lock.Unlock() }()

	for path, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	exportCmd.Flags().String("out", "", "Output directory (required)")
	exportCmd.Flags().String("format", "v1", "Export format: v1 or v2")
	exportCmd.Flags().String("tier", "private", "Privacy tier: private or public")
	exportCmd.Flags().String("diff-against", "", "Directory of a previous export to diff against (v2)")
	rootCmd.AddCommand(exportCmd)
}
