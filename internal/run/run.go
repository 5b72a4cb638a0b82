// Package run owns the run lifecycle: creation with frozen config,
// eligible-day computation, and status recomputation from job counts.
package run

import (
	"context"
	"sort"
	"time"

	"github.com/untoldecay/chronicle/internal/idgen"
	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

// CreateInput parameterises run creation. ImportBatchID is the
// single-batch back-compat form; it conflicts with ImportBatchIDs.
type CreateInput struct {
	Model           string
	StartDate       string
	EndDate         string
	Sources         []types.Source
	ImportBatchID   string
	ImportBatchIDs  []string
	FilterProfileID string
	LabelSpec       *types.LabelSpec
	MaxInputTokens  int
	OutputTarget    string
}

// Create freezes the run configuration, computes the eligible days,
// and inserts the run with one queued job per eligible day.
func Create(ctx context.Context, store storage.Storage, in CreateInput) (*types.Run, error) {
	batchIDs, err := normaliseBatchIDs(in)
	if err != nil {
		return nil, err
	}
	if in.Model == "" {
		return nil, types.Invalidf("model is required")
	}
	if in.StartDate == "" || in.EndDate == "" || in.StartDate > in.EndDate {
		return nil, types.Invalidf("invalid date range %q..%q", in.StartDate, in.EndDate)
	}
	if len(in.Sources) == 0 {
		in.Sources = []types.Source{types.SourceChatGPT, types.SourceClaude, types.SourceGrok}
	}

	batches, err := store.ListImportBatches(ctx, batchIDs)
	if err != nil {
		return nil, err
	}
	timezone, err := sharedTimezone(batches)
	if err != nil {
		return nil, err
	}

	summarizePV, err := store.GetActivePromptVersion(ctx, types.StageSummarize)
	if err != nil {
		return nil, err
	}

	labelSpec, err := resolveLabelSpec(ctx, store, in.LabelSpec)
	if err != nil {
		return nil, err
	}

	filter, err := resolveFilter(ctx, store, in.FilterProfileID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snapshot, err := llm.Snapshot(in.Model, now)
	if err != nil {
		return nil, err
	}

	maxInput := in.MaxInputTokens
	if maxInput <= 0 {
		maxInput = 100000
	}

	cfg := types.RunConfig{
		LabelSpec:             labelSpec,
		FilterProfileSnapshot: filter,
		Timezone:              timezone,
		MaxInputTokens:        maxInput,
		PricingSnapshot:       snapshot,
		ImportBatchIDs:        batchIDs,
	}
	cfg.PromptVersionIDs.Summarize = summarizePV.ID

	days, err := store.EligibleDays(ctx, storage.EligibleDaysQuery{
		BatchIDs:  batchIDs,
		StartDate: in.StartDate,
		EndDate:   in.EndDate,
		Sources:   in.Sources,
		LabelSpec: labelSpec,
		Filter:    filter,
	})
	if err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return nil, &types.NoEligibleDaysError{StartDate: in.StartDate, EndDate: in.EndDate}
	}

	r := &types.Run{
		ID:              idgen.New("run"),
		Status:          types.RunQueued,
		Model:           in.Model,
		StartDate:       in.StartDate,
		EndDate:         in.EndDate,
		Sources:         in.Sources,
		FilterProfileID: in.FilterProfileID,
		OutputTarget:    in.OutputTarget,
		Config:          cfg,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateRun(ctx, r); err != nil {
			return err
		}
		for _, id := range batchIDs {
			if err := tx.CreateRunBatch(ctx, r.ID, id); err != nil {
				return err
			}
		}
		for _, day := range days {
			job := &types.Job{
				ID:      idgen.New("job"),
				RunID:   r.ID,
				DayDate: day,
				Status:  types.JobQueued,
				Attempt: 1,
			}
			if err := tx.CreateJob(ctx, job); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func normaliseBatchIDs(in CreateInput) ([]string, error) {
	if in.ImportBatchID != "" && len(in.ImportBatchIDs) > 1 {
		return nil, types.Invalidf("importBatchId conflicts with a multi-batch importBatchIds list")
	}
	ids := in.ImportBatchIDs
	if len(ids) == 0 && in.ImportBatchID != "" {
		ids = []string{in.ImportBatchID}
	}
	if len(ids) == 0 {
		return nil, types.Invalidf("at least one import batch is required")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return nil, types.Invalidf("duplicate import batch id %s", id)
		}
		seen[id] = true
	}
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out, nil
}

func sharedTimezone(batches []*types.ImportBatch) (string, error) {
	zones := make(map[string]bool)
	var ids []string
	for _, b := range batches {
		zones[b.Timezone] = true
		ids = append(ids, b.ID)
	}
	if len(zones) > 1 {
		var zs []string
		for z := range zones {
			zs = append(zs, z)
		}
		sort.Strings(zs)
		return "", &types.TimezoneMismatchError{Timezones: zs, BatchIDs: ids}
	}
	for z := range zones {
		return z, nil
	}
	return "UTC", nil
}

// resolveLabelSpec prefers the explicit parameter and otherwise pairs
// the most recently created active classify prompt version with its
// model marker (the model of its newest label, defaulting to the stub
// model when nothing has been labeled under it yet).
func resolveLabelSpec(ctx context.Context, store storage.Storage, explicit *types.LabelSpec) (types.LabelSpec, error) {
	if explicit != nil {
		if explicit.Model == "" || explicit.PromptVersionID == "" {
			return types.LabelSpec{}, types.Invalidf("label spec requires both model and promptVersionId")
		}
		return *explicit, nil
	}
	pv, err := store.GetActivePromptVersion(ctx, types.StageClassify)
	if err != nil {
		return types.LabelSpec{}, err
	}
	model, err := store.LatestLabelModelForVersion(ctx, pv.ID)
	if err != nil {
		return types.LabelSpec{}, err
	}
	if model == "" {
		model = types.StubModel
	}
	return types.LabelSpec{Model: model, PromptVersionID: pv.ID}, nil
}

func resolveFilter(ctx context.Context, store storage.Storage, profileID string) (types.FilterSnapshot, error) {
	if profileID == "" {
		// Default: include everything.
		cats := make([]types.Category, len(types.AllCategories))
		copy(cats, types.AllCategories)
		return types.FilterSnapshot{Mode: types.FilterInclude, Categories: cats}, nil
	}
	p, err := store.GetFilterProfile(ctx, profileID)
	if err != nil {
		return types.FilterSnapshot{}, err
	}
	cats := make([]types.Category, len(p.Categories))
	copy(cats, p.Categories)
	return types.FilterSnapshot{Mode: p.Mode, Categories: cats}, nil
}

// ComputeStatus derives the run status from a job-status multiset.
// Cancellation is terminal and handled by the caller before this runs.
func ComputeStatus(counts map[types.JobStatus]int) types.RunStatus {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return types.RunQueued
	}
	succeeded := counts[types.JobSucceeded]
	failed := counts[types.JobFailed]
	cancelled := counts[types.JobCancelled]
	running := counts[types.JobRunning]
	terminal := succeeded + failed + cancelled

	if running > 0 {
		return types.RunRunning
	}
	if terminal == total {
		if failed > 0 {
			return types.RunFailed
		}
		if succeeded > 0 {
			return types.RunCompleted
		}
		// all cancelled: defensive fallback
		return types.RunQueued
	}
	if succeeded+failed > 0 {
		// work has been done and jobs remain queued
		return types.RunRunning
	}
	return types.RunQueued
}
