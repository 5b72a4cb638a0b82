package run

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/chronicle/internal/classify"
	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/types"
)

func TestComputeStatus(t *testing.T) {
	q, r, s, f, c := types.JobQueued, types.JobRunning, types.JobSucceeded, types.JobFailed, types.JobCancelled

	cases := []struct {
		name   string
		counts map[types.JobStatus]int
		want   types.RunStatus
	}{
		{"no jobs", map[types.JobStatus]int{}, types.RunQueued},
		{"all queued", map[types.JobStatus]int{q: 3}, types.RunQueued},
		{"one running", map[types.JobStatus]int{q: 2, r: 1}, types.RunRunning},
		{"progress with queue left", map[types.JobStatus]int{q: 1, s: 2}, types.RunRunning},
		{"failure with queue left", map[types.JobStatus]int{q: 1, f: 1}, types.RunRunning},
		{"all succeeded", map[types.JobStatus]int{s: 3}, types.RunCompleted},
		{"mixed terminal with failure", map[types.JobStatus]int{s: 2, f: 1}, types.RunFailed},
		{"succeeded plus cancelled", map[types.JobStatus]int{s: 2, c: 1}, types.RunCompleted},
		{"all cancelled", map[types.JobStatus]int{c: 3}, types.RunQueued},
		{"running beats terminal", map[types.JobStatus]int{r: 1, f: 2}, types.RunRunning},
	}
	for _, tc := range cases {
		if got := ComputeStatus(tc.counts); got != tc.want {
			t.Errorf("%s: ComputeStatus = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func setupLabeledBatch(t *testing.T, timezone string) (*sqlite.SQLiteStorage, string) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	var msgs []types.ParsedMessage
	for day := 0; day < 3; day++ {
		msgs = append(msgs, types.ParsedMessage{
			Source:               types.SourceChatGPT,
			SourceConversationID: "c1",
			SourceMessageID:      string(rune('a' + day)),
			TimestampUTC:         base.Add(time.Duration(day) * 24 * time.Hour),
			Role:                 types.RoleUser,
			Text:                 "day message",
		})
	}
	imp, err := ingest.ImportExport(context.Background(), store, msgs, ingest.Options{
		Filename: "t.jsonl", Timezone: timezone,
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := classify.ClassifyBatch(context.Background(), store, classify.Input{
		ImportBatchID:   imp.BatchID,
		Model:           types.StubModel,
		PromptVersionID: sqlite.StubClassifyVersionID,
		Mode:            types.ClassifyStub,
	}); err != nil {
		t.Fatalf("classify: %v", err)
	}
	return store, imp.BatchID
}

func TestCreateFreezesConfigAndQueuesJobs(t *testing.T) {
	store, batchID := setupLabeledBatch(t, "UTC")
	ctx := context.Background()

	r, err := Create(ctx, store, CreateInput{
		Model:          types.StubModel,
		StartDate:      "2025-04-01",
		EndDate:        "2025-04-30",
		ImportBatchIDs: []string{batchID},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.Status != types.RunQueued {
		t.Fatalf("status = %s", r.Status)
	}
	if r.Config.Timezone != "UTC" {
		t.Fatalf("timezone = %s", r.Config.Timezone)
	}
	if r.Config.PromptVersionIDs.Summarize == "" {
		t.Fatal("summarize prompt version not frozen")
	}
	if r.Config.LabelSpec.Model != types.StubModel {
		t.Fatalf("label spec = %+v", r.Config.LabelSpec)
	}
	if r.Config.PricingSnapshot == nil || r.Config.PricingSnapshot.Model != types.StubModel {
		t.Fatalf("pricing snapshot = %+v", r.Config.PricingSnapshot)
	}
	if r.Config.MaxInputTokens != 100000 {
		t.Fatalf("maxInputTokens = %d", r.Config.MaxInputTokens)
	}

	jobs, err := store.ListJobs(ctx, r.ID)
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("job count = %d, want 3", len(jobs))
	}
	for i, j := range jobs {
		if j.Status != types.JobQueued || j.Attempt != 1 {
			t.Fatalf("job %d = %+v", i, j)
		}
	}
	if jobs[0].DayDate != "2025-04-01" || jobs[2].DayDate != "2025-04-03" {
		t.Fatalf("job days = %s..%s", jobs[0].DayDate, jobs[2].DayDate)
	}

	// The run round-trips with its frozen config.
	loaded, err := store.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if loaded.Config.LabelSpec != r.Config.LabelSpec {
		t.Fatalf("label spec lost on reload: %+v", loaded.Config.LabelSpec)
	}
}

func TestCreateNoEligibleDays(t *testing.T) {
	store, batchID := setupLabeledBatch(t, "UTC")

	_, err := Create(context.Background(), store, CreateInput{
		Model:          types.StubModel,
		StartDate:      "2030-01-01",
		EndDate:        "2030-01-31",
		ImportBatchIDs: []string{batchID},
	})
	var noDays *types.NoEligibleDaysError
	if !errors.As(err, &noDays) {
		t.Fatalf("expected NoEligibleDaysError, got %v", err)
	}
}

func TestCreateTimezoneMismatch(t *testing.T) {
	store, batchA := setupLabeledBatch(t, "UTC")

	// Second batch in another zone, same store.
	msgs := []types.ParsedMessage{{
		Source: types.SourceClaude, SourceConversationID: "z", SourceMessageID: "1",
		TimestampUTC: time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC),
		Role:         types.RoleUser, Text: "other zone",
	}}
	impB, err := ingest.ImportExport(context.Background(), store, msgs, ingest.Options{
		Filename: "b.jsonl", Timezone: "Europe/Paris",
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}

	_, err = Create(context.Background(), store, CreateInput{
		Model:          types.StubModel,
		StartDate:      "2025-04-01",
		EndDate:        "2025-04-30",
		ImportBatchIDs: []string{batchA, impB.BatchID},
	})
	var mismatch *types.TimezoneMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected TimezoneMismatchError, got %v", err)
	}
}

func TestCreateInputValidation(t *testing.T) {
	store, batchID := setupLabeledBatch(t, "UTC")
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"no batches", CreateInput{Model: types.StubModel, StartDate: "2025-04-01", EndDate: "2025-04-30"}},
		{"duplicate batch", CreateInput{Model: types.StubModel, StartDate: "2025-04-01", EndDate: "2025-04-30", ImportBatchIDs: []string{batchID, batchID}}},
		{"no model", CreateInput{StartDate: "2025-04-01", EndDate: "2025-04-30", ImportBatchIDs: []string{batchID}}},
		{"inverted range", CreateInput{Model: types.StubModel, StartDate: "2025-04-30", EndDate: "2025-04-01", ImportBatchIDs: []string{batchID}}},
		{"single and multi conflict", CreateInput{Model: types.StubModel, StartDate: "2025-04-01", EndDate: "2025-04-30", ImportBatchID: batchID, ImportBatchIDs: []string{batchID, "x"}}},
	}
	for _, tc := range cases {
		if _, err := Create(ctx, store, tc.in); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
