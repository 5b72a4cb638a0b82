package tick

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/chronicle/internal/classify"
	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/run"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/types"
)

// setupRun imports three days of messages, stub-classifies them, and
// creates a stub-model run covering them.
func setupRun(t *testing.T) (*sqlite.SQLiteStorage, *types.Run) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	var msgs []types.ParsedMessage
	for day := 0; day < 3; day++ {
		for i := 0; i < 2; i++ {
			msgs = append(msgs, types.ParsedMessage{
				Source:               types.SourceChatGPT,
				SourceConversationID: "c1",
				SourceMessageID:      string(rune('a'+day)) + string(rune('0'+i)),
				TimestampUTC:         base.Add(time.Duration(day)*24*time.Hour + time.Duration(i)*time.Minute),
				Role:                 types.RoleUser,
				Text:                 "note for the journal",
			})
		}
	}
	imp, err := ingest.ImportExport(ctx, store, msgs, ingest.Options{Filename: "t.jsonl", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := classify.ClassifyBatch(ctx, store, classify.Input{
		ImportBatchID:   imp.BatchID,
		Model:           types.StubModel,
		PromptVersionID: sqlite.StubClassifyVersionID,
		Mode:            types.ClassifyStub,
	}); err != nil {
		t.Fatalf("classify: %v", err)
	}
	r, err := run.Create(ctx, store, run.CreateInput{
		Model:          types.StubModel,
		StartDate:      "2025-05-01",
		EndDate:        "2025-05-31",
		ImportBatchIDs: []string{imp.BatchID},
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return store, r
}

func TestProcessTickDrainsRun(t *testing.T) {
	store, r := setupRun(t)
	ctx := context.Background()

	// First tick processes exactly one job (oldest day first).
	p, err := ProcessTick(ctx, store, r.ID, 1)
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if len(p.ProcessedDays) != 1 || p.ProcessedDays[0] != "2025-05-01" {
		t.Fatalf("processed = %v", p.ProcessedDays)
	}
	if p.Status != types.RunRunning {
		t.Fatalf("status after tick 1 = %s", p.Status)
	}
	// The running status is persisted, not just reported.
	cur, err := store.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if cur.Status != types.RunRunning {
		t.Fatalf("stored status after tick 1 = %s", cur.Status)
	}

	// Drain the rest.
	p, err = ProcessTick(ctx, store, r.ID, 10)
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}
	if p.Status != types.RunCompleted {
		t.Fatalf("status after drain = %s", p.Status)
	}
	if p.Counts[types.JobSucceeded] != 3 {
		t.Fatalf("counts = %v", p.Counts)
	}
	if p.SpendUsd != 0 {
		t.Fatalf("stub run spent %f", p.SpendUsd)
	}

	// Each day has exactly one summarize output with stub text and the
	// bundle hashes recorded.
	jobs, err := store.ListJobs(ctx, r.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	for _, j := range jobs {
		if j.Status != types.JobSucceeded {
			t.Fatalf("job %s status %s", j.DayDate, j.Status)
		}
		n, err := store.CountSummarizeOutputs(ctx, j.ID)
		if err != nil {
			t.Fatalf("count outputs: %v", err)
		}
		if n != 1 {
			t.Fatalf("job %s has %d outputs", j.DayDate, n)
		}
		out, err := store.GetSummarizeOutput(ctx, j.ID)
		if err != nil {
			t.Fatalf("get output: %v", err)
		}
		if !strings.Contains(out.OutputText, "Summary (stub)") {
			t.Fatalf("output text = %q", out.OutputText)
		}
		if out.BundleHash == "" || out.BundleContextHash == "" {
			t.Fatal("bundle hashes not recorded")
		}
		if out.Meta.Segmented {
			t.Fatal("small bundle should not be segmented")
		}
		if out.Meta.AtomCount != 2 {
			t.Fatalf("atomCount = %d", out.Meta.AtomCount)
		}
	}

	// A tick on a completed run is a snapshot, not work.
	p, err = ProcessTick(ctx, store, r.ID, 1)
	if err != nil {
		t.Fatalf("tick on completed run: %v", err)
	}
	if len(p.ProcessedDays) != 0 || p.Status != types.RunCompleted {
		t.Fatalf("completed-run tick = %+v", p)
	}
}

func TestProcessTickLockExclusion(t *testing.T) {
	store, r := setupRun(t)
	ctx := context.Background()

	// Hold the run lock from another session; the tick must refuse.
	lock, acquired, err := store.AcquireRunLock(ctx, r.ID)
	if err != nil {
		t.Fatalf("acquire lock: %v", err)
	}
	if !acquired {
		t.Fatal("could not acquire fresh lock")
	}

	_, err = ProcessTick(ctx, store, r.ID, 1)
	var inProgress *types.TickInProgressError
	if !errors.As(err, &inProgress) {
		t.Fatalf("expected TickInProgressError, got %v", err)
	}
	if !inProgress.Retriable() {
		t.Fatal("tick-in-progress must be retriable")
	}

	// Release and retry: the tick proceeds.
	if err := lock.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := ProcessTick(ctx, store, r.ID, 1); err != nil {
		t.Fatalf("tick after release: %v", err)
	}
}

func TestProcessTickCancelledRunIsSnapshot(t *testing.T) {
	store, r := setupRun(t)
	ctx := context.Background()

	if err := store.UpdateRunStatus(ctx, r.ID, types.RunCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	p, err := ProcessTick(ctx, store, r.ID, 10)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if p.Status != types.RunCancelled {
		t.Fatalf("status = %s", p.Status)
	}
	if len(p.ProcessedDays) != 0 {
		t.Fatalf("cancelled run processed jobs: %v", p.ProcessedDays)
	}
	// Queued jobs remain queued, never drained.
	if p.Counts[types.JobQueued] != 3 {
		t.Fatalf("counts = %v", p.Counts)
	}
}

// cancelAfterLock cancels the run right after the lock is acquired,
// before the tick re-reads the run.
type cancelAfterLock struct {
	*sqlite.SQLiteStorage
}

func (s *cancelAfterLock) AcquireRunLock(ctx context.Context, runID string) (storage.RunLock, bool, error) {
	lock, acquired, err := s.SQLiteStorage.AcquireRunLock(ctx, runID)
	if err == nil && acquired {
		if uerr := s.SQLiteStorage.UpdateRunStatus(ctx, runID, types.RunCancelled); uerr != nil {
			_ = lock.Release()
			return nil, false, uerr
		}
	}
	return lock, acquired, err
}

func TestProcessTickCancelBetweenReadAndLock(t *testing.T) {
	store, r := setupRun(t)
	ctx := context.Background()

	p, err := ProcessTick(ctx, &cancelAfterLock{SQLiteStorage: store}, r.ID, 10)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if p.Status != types.RunCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}
	if len(p.ProcessedDays) != 0 {
		t.Fatalf("cancelled run processed jobs: %v", p.ProcessedDays)
	}
	if p.Counts[types.JobQueued] != 3 {
		t.Fatalf("counts = %v", p.Counts)
	}
	cur, err := store.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if cur.Status != types.RunCancelled {
		t.Fatalf("stored status = %s", cur.Status)
	}
}

// cancelAfterListJobs cancels the run after the tick has committed to
// its job list, while the jobs are still being processed.
type cancelAfterListJobs struct {
	*sqlite.SQLiteStorage
}

func (s *cancelAfterListJobs) ListQueuedJobs(ctx context.Context, runID string, limit int) ([]*types.Job, error) {
	jobs, err := s.SQLiteStorage.ListQueuedJobs(ctx, runID, limit)
	if err != nil {
		return nil, err
	}
	if uerr := s.SQLiteStorage.UpdateRunStatus(ctx, runID, types.RunCancelled); uerr != nil {
		return nil, uerr
	}
	return jobs, nil
}

func TestProcessTickCancelWhileJobsRun(t *testing.T) {
	store, r := setupRun(t)
	ctx := context.Background()

	// The in-flight jobs finish, but the cancel must win the final
	// status write.
	p, err := ProcessTick(ctx, &cancelAfterListJobs{SQLiteStorage: store}, r.ID, 10)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(p.ProcessedDays) != 3 {
		t.Fatalf("processed = %v", p.ProcessedDays)
	}
	if p.Status != types.RunCancelled {
		t.Fatalf("status = %s, want cancelled", p.Status)
	}
	cur, err := store.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if cur.Status != types.RunCancelled {
		t.Fatalf("completed overwrote cancelled: stored status = %s", cur.Status)
	}
}

func TestProcessTickUnknownRun(t *testing.T) {
	store, _ := setupRun(t)
	if _, err := ProcessTick(context.Background(), store, "run_missing", 1); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestJoinSegmentTexts(t *testing.T) {
	if got := joinSegmentTexts([]string{"only"}); got != "only" {
		t.Fatalf("single segment = %q", got)
	}
	got := joinSegmentTexts([]string{"first", "second"})
	if !strings.Contains(got, "## Segment 1") || !strings.Contains(got, "## Segment 2") {
		t.Fatalf("multi segment = %q", got)
	}
	if !strings.Contains(got, "first") || !strings.Contains(got, "second") {
		t.Fatalf("segment bodies missing: %q", got)
	}
}
