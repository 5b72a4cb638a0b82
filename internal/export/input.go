package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

// Options selects the export shape.
type Options struct {
	FormatVersion    string // defaults to export_v1
	Tier             string // defaults to private
	ExportedAt       time.Time
	PreviousManifest []byte
}

// BuildExportInput validates that a run is exportable and loads
// everything the renderer needs. Preconditions: the run is completed,
// every job succeeded, and every job has exactly one summarize output.
func BuildExportInput(ctx context.Context, store storage.Storage, runID string, opts Options) (*Input, error) {
	format := opts.FormatVersion
	if format == "" {
		format = FormatV1
	}
	tier := opts.Tier
	if tier == "" {
		tier = TierPrivate
	}
	v2 := format == FormatV2

	r, err := store.GetRun(ctx, runID)
	if err != nil {
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			return nil, &types.ExportPreconditionError{
				ErrCode: types.ExportNotFound,
				Message: fmt.Sprintf("run not found: %s", runID),
			}
		}
		return nil, err
	}
	if r.Status != types.RunCompleted {
		return nil, &types.ExportPreconditionError{
			ErrCode: types.ExportPrecondition,
			Message: fmt.Sprintf("run %s has status %s, want completed", runID, r.Status),
			Details: map[string]any{"runId": runID, "status": string(r.Status)},
		}
	}

	jobs, err := store.ListJobs(ctx, runID)
	if err != nil {
		return nil, err
	}
	days := make([]DayEntry, 0, len(jobs))
	for _, job := range jobs {
		if job.Status != types.JobSucceeded {
			return nil, &types.ExportPreconditionError{
				ErrCode: types.ExportPrecondition,
				Message: fmt.Sprintf("job %s (day %s) has status %s, want succeeded", job.ID, job.DayDate, job.Status),
				Details: map[string]any{"jobId": job.ID, "dayDate": job.DayDate},
			}
		}
		n, err := store.CountSummarizeOutputs(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		switch {
		case n == 0:
			// A succeeded job without an output summarised an empty day;
			// it simply has no page in the export.
			continue
		case n > 1:
			return nil, &types.ExportPreconditionError{
				ErrCode: types.ExportPrecondition,
				Message: fmt.Sprintf("job %s has %d summarize outputs, want 1", job.ID, n),
				Details: map[string]any{"jobId": job.ID},
			}
		}
		out, err := store.GetSummarizeOutput(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		days = append(days, DayEntry{
			DayDate:           job.DayDate,
			OutputText:        out.OutputText,
			CreatedAt:         hashing.ToCanonicalTs(out.CreatedAt),
			BundleHash:        out.BundleHash,
			BundleContextHash: out.BundleContextHash,
			Segmented:         out.Meta.Segmented,
			SegmentCount:      out.Meta.SegmentCount,
		})
	}

	batchIDs, err := store.ListRunBatchIDs(ctx, runID)
	if err != nil {
		return nil, err
	}
	batchRows, err := store.ListImportBatches(ctx, batchIDs)
	if err != nil {
		return nil, err
	}
	batches := make([]BatchInfo, 0, len(batchRows))
	for _, b := range batchRows {
		batches = append(batches, BatchInfo{
			ID:               b.ID,
			Source:           b.Source,
			OriginalFilename: b.OriginalFilename,
			FileSizeBytes:    b.FileSizeBytes,
			Timezone:         b.Timezone,
			CreatedAt:        hashing.ToCanonicalTs(b.CreatedAt),
		})
	}

	in := &Input{
		FormatVersion:    format,
		Tier:             tier,
		ExportedAt:       hashing.ToCanonicalTs(opts.ExportedAt),
		RunID:            r.ID,
		Model:            r.Model,
		StartDate:        r.StartDate,
		EndDate:          r.EndDate,
		Batches:          batches,
		Days:             days,
		PreviousManifest: opts.PreviousManifest,
	}
	if v2 {
		in.TopicVersion = TopicV1
	}

	// The public v1 tier never shows atoms; every other combination
	// needs them (privately rendered, or feeding the topic computation).
	if tier == TierPrivate || v2 {
		atoms, err := store.ListUserAtoms(ctx, storage.AtomRangeQuery{
			BatchIDs:  batchIDs,
			StartDate: r.StartDate,
			EndDate:   r.EndDate,
			Sources:   r.Sources,
		})
		if err != nil {
			return nil, err
		}
		var categories map[string]types.Category
		if v2 {
			ids := make([]string, len(atoms))
			for i, a := range atoms {
				ids[i] = a.ID
			}
			categories, err = store.LabelsForAtoms(ctx, ids, r.Config.LabelSpec)
			if err != nil {
				return nil, err
			}
		}
		for _, a := range atoms {
			ref := AtomRef{
				Source:  a.Source,
				DayDate: a.DayDate,
				Ts:      hashing.ToCanonicalTs(a.TimestampUTC),
				Text:    a.Text,
			}
			if c, ok := categories[a.ID]; ok {
				ref.Category = strings.ToLower(string(c))
			}
			in.Atoms = append(in.Atoms, ref)
		}
	}

	return in, nil
}
