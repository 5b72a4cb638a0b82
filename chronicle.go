// Package chronicle is the library facade over the pipeline core:
// ingest, classification, run orchestration, summarisation, export,
// and search. Embedders open a Store and call these functions; the
// CLI under cmd/chronicle is one such embedder.
package chronicle

import (
	"context"

	"github.com/untoldecay/chronicle/internal/bundle"
	"github.com/untoldecay/chronicle/internal/classify"
	"github.com/untoldecay/chronicle/internal/export"
	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/run"
	"github.com/untoldecay/chronicle/internal/search"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/summarize"
	"github.com/untoldecay/chronicle/internal/tick"
	"github.com/untoldecay/chronicle/internal/types"
)

// Store is the persistence handle shared by every operation.
type Store = storage.Storage

// Open opens (creating and migrating if needed) the SQLite store at
// path.
func Open(ctx context.Context, path string) (Store, error) {
	return sqlite.New(ctx, path)
}

// Re-exported domain types.
type (
	ParsedMessage = types.ParsedMessage
	ImportBatch   = types.ImportBatch
	Run           = types.Run
	Job           = types.Job
	Output        = types.Output
	LabelSpec     = types.LabelSpec
	Category      = types.Category
	Source        = types.Source
)

// ImportOptions configures an import; see ingest.Options.
type ImportOptions = ingest.Options

// ImportResult reports what an import produced.
type ImportResult = ingest.Result

// ImportExport ingests parsed messages as one immutable batch,
// skipping atoms already imported by any earlier batch.
func ImportExport(ctx context.Context, store Store, msgs []ParsedMessage, opts ImportOptions) (*ImportResult, error) {
	return ingest.ImportExport(ctx, store, msgs, opts)
}

// ClassifyInput configures a classification pass; see classify.Input.
type ClassifyInput = classify.Input

// ClassifyBatch labels a batch's unlabeled atoms under a
// (model, promptVersionId) pair.
func ClassifyBatch(ctx context.Context, store Store, in ClassifyInput) (*types.ClassifyRun, error) {
	return classify.ClassifyBatch(ctx, store, in)
}

// CreateRunInput configures run creation; see run.CreateInput.
type CreateRunInput = run.CreateInput

// CreateRun freezes a run config and queues one job per eligible day.
func CreateRun(ctx context.Context, store Store, in CreateRunInput) (*Run, error) {
	return run.Create(ctx, store, in)
}

// TickProgress is what one tick reports back.
type TickProgress = tick.Progress

// ProcessTick advances up to maxJobs queued jobs of a run under the
// run's advisory lock.
func ProcessTick(ctx context.Context, store Store, runID string, maxJobs int) (*TickProgress, error) {
	return tick.ProcessTick(ctx, store, runID, maxJobs)
}

// Bundle is a rendered per-day bundle; see bundle.Bundle.
type Bundle = bundle.Bundle

// BuildBundle renders the deterministic bundle text for one day.
func BuildBundle(ctx context.Context, store Store, in bundle.BuildInput) (*Bundle, error) {
	return bundle.Build(ctx, store, in)
}

// SegmentBundle splits a bundle's atoms into cap-respecting segments.
func SegmentBundle(atoms []*types.MessageAtom, bundleHash string, maxInputTokens int) bundle.SegmentResult {
	return bundle.SegmentBundle(atoms, bundleHash, maxInputTokens)
}

// Summarize produces the summary for one bundle text through the
// given LLM client.
func Summarize(ctx context.Context, client *llm.Client, in summarize.Input) (*summarize.Result, error) {
	return summarize.Summarize(ctx, client, in)
}

// SearchQuery and SearchResult are the search surface.
type (
	SearchQuery  = search.Query
	SearchResult = search.Result
)

// Search runs a full-text query over atoms or outputs.
func Search(ctx context.Context, store Store, q SearchQuery) (*SearchResult, error) {
	return search.Search(ctx, store, q)
}

// ExportOptions and ExportInput are the export surface.
type (
	ExportOptions = export.Options
	ExportInput   = export.Input
)

// BuildExportInput validates export preconditions and loads the
// renderer's input for a completed run.
func BuildExportInput(ctx context.Context, store Store, runID string, opts ExportOptions) (*ExportInput, error) {
	return export.BuildExportInput(ctx, store, runID, opts)
}

// RenderExportTree renders the byte-stable file tree for an export
// input. Pure function: no I/O.
func RenderExportTree(in ExportInput) (map[string]string, error) {
	return export.Render(in)
}
