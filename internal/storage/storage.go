// Package storage defines the interface for pipeline storage backends.
package storage

import (
	"context"

	"github.com/untoldecay/chronicle/internal/types"
)

// Tx exposes the subset of write operations that execute within a
// single database transaction. Atomic workflows (ingest, run creation,
// job completion) go through RunInTransaction so that either all rows
// land or none do.
type Tx interface {
	CreateImportBatch(ctx context.Context, batch *types.ImportBatch) error
	// InsertAtoms bulk-inserts atoms with duplicate-safe semantics
	// (conflicts on atom_stable_id are skipped, never overwritten) and
	// returns the number of rows actually inserted.
	InsertAtoms(ctx context.Context, atoms []*types.MessageAtom) (int, error)
	CreateRawEntry(ctx context.Context, entry *types.RawEntry) error

	CreateRun(ctx context.Context, run *types.Run) error
	CreateRunBatch(ctx context.Context, runID, importBatchID string) error
	CreateJob(ctx context.Context, job *types.Job) error

	// CreateOutput plus UpdateJobResult in one transaction keeps the
	// "no partial Output rows" invariant: the output exists only if the
	// job's success update commits with it.
	CreateOutput(ctx context.Context, out *types.Output) error
	UpdateJobResult(ctx context.Context, jobID string, status types.JobStatus,
		tokensIn, tokensOut int, costUsd float64, jobErr *types.JobError) error

	SetPromptVersionActive(ctx context.Context, stage types.PromptStage, versionID string) error
}

// BundleQuery selects the filtered user atoms of one day.
type BundleQuery struct {
	BatchIDs  []string
	DayDate   string
	Sources   []types.Source
	LabelSpec types.LabelSpec
	Filter    types.FilterSnapshot
}

// EligibleDaysQuery finds days with at least one filter-passing
// labeled user atom.
type EligibleDaysQuery struct {
	BatchIDs  []string
	StartDate string
	EndDate   string
	Sources   []types.Source
	LabelSpec types.LabelSpec
	Filter    types.FilterSnapshot
}

// AtomRangeQuery loads user atoms for the export orchestrator.
type AtomRangeQuery struct {
	BatchIDs  []string
	StartDate string
	EndDate   string
	Sources   []types.Source
}

// SearchScope selects which corpus a search runs over.
type SearchScope string

const (
	SearchRaw     SearchScope = "raw"
	SearchOutputs SearchScope = "outputs"
)

// SearchQuery is a full-text query with optional filters. Categories
// require LabelSpec to be set; the search package enforces that before
// reaching storage.
type SearchQuery struct {
	Scope         SearchScope
	Text          string
	ImportBatchID string
	RunID         string
	StartDate     string
	EndDate       string
	Sources       []types.Source
	Categories    []types.Category
	LabelSpec     *types.LabelSpec

	Limit     int
	AfterRank *float64 // keyset cursor: rank < AfterRank OR (rank = AfterRank AND id > AfterID)
	AfterID   string
}

// SearchHit is one row of a search result, before projection.
type SearchHit struct {
	ID      string
	Rank    float64
	Snippet string

	// raw scope
	Source  types.Source
	Role    types.Role
	DayDate string
	BatchID string

	// outputs scope
	RunID string
	Stage types.PromptStage
}

// RunLock is a held advisory lock for one run. Release must always be
// called, error paths included; acquire and release share one
// database session.
type RunLock interface {
	Release() error
}

// Storage defines the persistence operations of the pipeline core.
type Storage interface {
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error
	Close() error

	// Ingest
	ExistingStableIDs(ctx context.Context, stableIDs []string) (map[string]bool, error)
	GetImportBatch(ctx context.Context, id string) (*types.ImportBatch, error)
	ListImportBatches(ctx context.Context, ids []string) ([]*types.ImportBatch, error)

	// Prompts
	GetPromptVersion(ctx context.Context, id string) (*types.PromptVersion, error)
	GetActivePromptVersion(ctx context.Context, stage types.PromptStage) (*types.PromptVersion, error)
	ListPromptVersions(ctx context.Context, stage types.PromptStage) ([]*types.PromptVersion, error)

	// Classification
	CountAtoms(ctx context.Context, batchID string) (int, error)
	CountLabeledAtoms(ctx context.Context, batchID string, spec types.LabelSpec) (int, error)
	ListUnlabeledAtoms(ctx context.Context, batchID string, spec types.LabelSpec, afterID string, limit int) ([]*types.MessageAtom, error)
	InsertLabels(ctx context.Context, labels []*types.MessageLabel) (int, error)
	CreateClassifyRun(ctx context.Context, cr *types.ClassifyRun) error
	LatestLabelModelForVersion(ctx context.Context, promptVersionID string) (string, error)

	// Filter profiles
	CreateFilterProfile(ctx context.Context, p *types.FilterProfile) error
	GetFilterProfile(ctx context.Context, id string) (*types.FilterProfile, error)

	// Bundles
	ListBundleAtoms(ctx context.Context, q BundleQuery) ([]*types.MessageAtom, error)
	EligibleDays(ctx context.Context, q EligibleDaysQuery) ([]string, error)

	// Runs and jobs
	GetRun(ctx context.Context, id string) (*types.Run, error)
	// UpdateRunStatus writes a new run status. Cancelled is sticky:
	// writes against a cancelled run are dropped, not errors.
	UpdateRunStatus(ctx context.Context, id string, status types.RunStatus) error
	ListRunBatchIDs(ctx context.Context, runID string) ([]string, error)
	ListQueuedJobs(ctx context.Context, runID string, limit int) ([]*types.Job, error)
	ListJobs(ctx context.Context, runID string) ([]*types.Job, error)
	GetJobByDay(ctx context.Context, runID, dayDate string) (*types.Job, error)
	MarkJobRunning(ctx context.Context, jobID string) error
	JobStatusCounts(ctx context.Context, runID string) (map[types.JobStatus]int, error)
	RunSpendUsd(ctx context.Context, runID string) (float64, error)
	DaySpendUsd(ctx context.Context, utcDay string) (float64, error)
	RunTokenTotals(ctx context.Context, runID string) (tokensIn, tokensOut int, err error)

	// Outputs
	GetSummarizeOutput(ctx context.Context, jobID string) (*types.Output, error)
	CountSummarizeOutputs(ctx context.Context, jobID string) (int, error)

	// Export
	ListUserAtoms(ctx context.Context, q AtomRangeQuery) ([]*types.MessageAtom, error)
	LabelsForAtoms(ctx context.Context, atomIDs []string, spec types.LabelSpec) (map[string]types.Category, error)

	// Search
	Search(ctx context.Context, q SearchQuery) ([]*SearchHit, error)

	// Advisory lock, keyed by a stable 64-bit hash of the run id.
	// Non-blocking: returns (nil, false, nil) when another session
	// holds the lock.
	AcquireRunLock(ctx context.Context, runID string) (RunLock, bool, error)
}
