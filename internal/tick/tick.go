// Package tick drives run execution: each ProcessTick call claims the
// run's advisory lock, processes up to maxJobs queued jobs, and
// recomputes the run status. Ticks are re-entrant safe and idempotent
// across crashes because an output commits in the same transaction as
// its job's success.
package tick

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/untoldecay/chronicle/internal/bundle"
	"github.com/untoldecay/chronicle/internal/config"
	"github.com/untoldecay/chronicle/internal/debuglog"
	"github.com/untoldecay/chronicle/internal/idgen"
	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/run"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/summarize"
	"github.com/untoldecay/chronicle/internal/types"
)

// Progress is what one tick reports back.
type Progress struct {
	RunID         string
	Status        types.RunStatus
	Counts        map[types.JobStatus]int
	ProcessedDays []string
	SpendUsd      float64
}

// ProcessTick claims the run lock and advances up to maxJobs queued
// jobs (oldest day first). Returns TickInProgressError when another
// session holds the lock. A cancelled or otherwise terminal run is
// reported as a snapshot without processing anything.
func ProcessTick(ctx context.Context, store storage.Storage, runID string, maxJobs int) (*Progress, error) {
	if maxJobs <= 0 {
		maxJobs = 1
	}

	// Existence check before taking the lock.
	if _, err := store.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	lock, acquired, err := store.AcquireRunLock(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, &types.TickInProgressError{RunID: runID}
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			debuglog.Printf("tick: release lock for %s: %v", runID, rerr)
		}
	}()

	// Re-read under the lock: a cancel may have landed since the
	// pre-lock read.
	r, err := store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case types.RunCancelled, types.RunCompleted, types.RunFailed:
		return snapshot(ctx, store, r.ID, r.Status)
	}

	jobs, err := store.ListQueuedJobs(ctx, runID, maxJobs)
	if err != nil {
		return nil, err
	}
	if len(jobs) > 0 && r.Status != types.RunRunning {
		if err := store.UpdateRunStatus(ctx, runID, types.RunRunning); err != nil {
			return nil, err
		}
		r.Status = types.RunRunning
	}

	t, err := newTicker(ctx, store, r)
	if err != nil {
		return nil, err
	}

	var processed []string
	for _, job := range jobs {
		stop, err := t.processJob(ctx, job)
		if err != nil {
			return nil, err
		}
		processed = append(processed, job.DayDate)
		if stop {
			break
		}
	}

	counts, err := store.JobStatusCounts(ctx, runID)
	if err != nil {
		return nil, err
	}
	status := run.ComputeStatus(counts)
	if status != r.Status {
		if err := store.UpdateRunStatus(ctx, runID, status); err != nil {
			return nil, err
		}
		// Cancellation is sticky in the store; a cancel that landed while
		// jobs ran wins over the recomputed status. Report what is stored.
		cur, err := store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		status = cur.Status
	}
	spend, err := store.RunSpendUsd(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Progress{
		RunID:         runID,
		Status:        status,
		Counts:        counts,
		ProcessedDays: processed,
		SpendUsd:      spend,
	}, nil
}

func snapshot(ctx context.Context, store storage.Storage, runID string, status types.RunStatus) (*Progress, error) {
	counts, err := store.JobStatusCounts(ctx, runID)
	if err != nil {
		return nil, err
	}
	spend, err := store.RunSpendUsd(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &Progress{RunID: runID, Status: status, Counts: counts, SpendUsd: spend}, nil
}

// ticker is the per-tick execution state: one LLM client (so delays
// and budget accumulate FIFO across this tick's jobs) plus the frozen
// run config resolved once.
type ticker struct {
	store    storage.Storage
	run      *types.Run
	client   *llm.Client
	template string
}

func newTicker(ctx context.Context, store storage.Storage, r *types.Run) (*ticker, error) {
	pv, err := store.GetPromptVersion(ctx, r.Config.PromptVersionIDs.Summarize)
	if err != nil {
		return nil, err
	}

	policy := llm.BudgetPolicy{
		MaxUsdPerRun: config.MaxUsdPerRun(),
		MaxUsdPerDay: config.MaxUsdPerDay(),
	}
	client := llm.NewClient(r.Config.PricingSnapshot, policy, func(ctx context.Context) (float64, error) {
		return store.DaySpendUsd(ctx, time.Now().UTC().Format("2006-01-02"))
	})

	// Seed the run-budget counter with spend already committed by
	// earlier ticks.
	spent, err := store.RunSpendUsd(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	client.AddSpend(spent)

	return &ticker{store: store, run: r, client: client, template: pv.TemplateText}, nil
}

// processJob runs one day job to a terminal state. The boolean asks
// the tick loop to stop early (budget exhaustion fails every later
// call the same way, so processing more jobs only burns attempts).
func (t *ticker) processJob(ctx context.Context, job *types.Job) (bool, error) {
	if err := t.store.MarkJobRunning(ctx, job.ID); err != nil {
		return false, err
	}
	debuglog.Printf("tick: run %s job %s day %s starting", t.run.ID, job.ID, job.DayDate)

	b, err := bundle.Build(ctx, t.store, bundle.BuildInput{
		BatchIDs:  t.run.Config.ImportBatchIDs,
		DayDate:   job.DayDate,
		Sources:   t.run.Sources,
		LabelSpec: t.run.Config.LabelSpec,
		Filter:    t.run.Config.FilterProfileSnapshot,
	})
	if err != nil {
		return t.failJob(ctx, job, 0, 0, 0, err)
	}

	// A day can become empty between run creation and execution when
	// the filter excludes everything. Succeed with no output.
	if b.Text == "" {
		err := t.store.RunInTransaction(ctx, func(tx storage.Tx) error {
			return tx.UpdateJobResult(ctx, job.ID, types.JobSucceeded, 0, 0, 0, nil)
		})
		return false, err
	}

	seg := bundle.SegmentBundle(b.Atoms, b.Hash, t.run.Config.MaxInputTokens)
	estTokens := bundle.EstimateBundleTokens(b.Text)

	var tokensIn, tokensOut int
	var costUsd float64
	texts := make([]string, 0, len(seg.Segments))
	segmentIDs := make([]string, 0, len(seg.Segments))

	for _, s := range seg.Segments {
		res, err := summarize.Summarize(ctx, t.client, summarize.Input{
			BundleText:   s.Text,
			Model:        t.run.Model,
			TemplateText: t.template,
		})
		if err != nil {
			if res != nil {
				costUsd += res.CostUsd
			}
			return t.failJob(ctx, job, tokensIn, tokensOut, costUsd, err)
		}
		tokensIn += res.TokensIn
		tokensOut += res.TokensOut
		costUsd += res.CostUsd
		texts = append(texts, res.Text)
		segmentIDs = append(segmentIDs, s.ID)
	}

	out := &types.Output{
		ID:         idgen.New("out"),
		JobID:      job.ID,
		Stage:      types.StageSummarize,
		OutputText: joinSegmentTexts(texts),
		Meta: types.OutputMeta{
			Segmented:            seg.WasSegmented,
			AtomCount:            len(b.Atoms),
			EstimatedInputTokens: estTokens,
		},
		Model:             t.run.Model,
		PromptVersionID:   t.run.Config.PromptVersionIDs.Summarize,
		BundleHash:        b.Hash,
		BundleContextHash: b.ContextHash,
		CreatedAt:         time.Now(),
	}
	if seg.WasSegmented {
		out.Meta.SegmentCount = len(seg.Segments)
		out.Meta.SegmentIDs = segmentIDs
	}

	err = t.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateOutput(ctx, out); err != nil {
			return err
		}
		return tx.UpdateJobResult(ctx, job.ID, types.JobSucceeded, tokensIn, tokensOut, costUsd, nil)
	})
	if err != nil {
		return false, err
	}
	debuglog.Printf("tick: run %s job %s succeeded (%d atoms, %.6f USD)", t.run.ID, job.ID, len(b.Atoms), costUsd)
	return false, nil
}

// failJob marks the job failed with the error payload, keeping any
// tokens and spend accumulated before the failure.
func (t *ticker) failJob(ctx context.Context, job *types.Job, tokensIn, tokensOut int, costUsd float64, cause error) (bool, error) {
	jobErr := types.ErrorInfo(cause, time.Now())
	err := t.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		return tx.UpdateJobResult(ctx, job.ID, types.JobFailed, tokensIn, tokensOut, costUsd, jobErr)
	})
	if err != nil {
		return false, err
	}
	debuglog.Printf("tick: run %s job %s failed: %s", t.run.ID, job.ID, jobErr.Message)

	var budget *types.BudgetExceededError
	return errors.As(cause, &budget), nil
}

// joinSegmentTexts concatenates per-segment summaries, numbering them
// only when there is more than one.
func joinSegmentTexts(texts []string) string {
	if len(texts) == 1 {
		return texts[0]
	}
	var out string
	for i, t := range texts {
		if i > 0 {
			out += "\n\n"
		}
		out += fmt.Sprintf("## Segment %d\n\n%s", i+1, t)
	}
	return out
}
