package classify

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/types"
)

func setupBatch(t *testing.T) (*sqlite.SQLiteStorage, string) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	msgs := make([]types.ParsedMessage, 0, 8)
	for i := 0; i < 8; i++ {
		role := types.RoleUser
		if i%3 == 2 {
			role = types.RoleAssistant
		}
		msgs = append(msgs, types.ParsedMessage{
			Source:               types.SourceChatGPT,
			SourceConversationID: "c1",
			SourceMessageID:      string(rune('a' + i)),
			TimestampUTC:         base.Add(time.Duration(i) * time.Minute),
			Role:                 role,
			Text:                 "message " + string(rune('a'+i)),
		})
	}
	res, err := ingest.ImportExport(context.Background(), store, msgs, ingest.Options{
		Filename: "test.jsonl", Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return store, res.BatchID
}

func stubSpec() types.LabelSpec {
	return types.LabelSpec{Model: types.StubModel, PromptVersionID: sqlite.StubClassifyVersionID}
}

func TestClassifyStub(t *testing.T) {
	store, batchID := setupBatch(t)
	ctx := context.Background()

	cr, err := ClassifyBatch(ctx, store, Input{
		ImportBatchID:   batchID,
		Model:           types.StubModel,
		PromptVersionID: sqlite.StubClassifyVersionID,
		Mode:            types.ClassifyStub,
	})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if cr.TotalAtoms != 8 || cr.NewlyLabeled != 8 || cr.SkippedAlreadyLabeled != 0 {
		t.Fatalf("stats = total %d newly %d skipped %d", cr.TotalAtoms, cr.NewlyLabeled, cr.SkippedAlreadyLabeled)
	}
	if cr.CostUsd != 0 {
		t.Fatalf("stub classify cost %f, want 0", cr.CostUsd)
	}
	if cr.FinishedAt == nil {
		t.Fatal("finishedAt not set")
	}
}

func TestClassifyStubDeterministic(t *testing.T) {
	ctx := context.Background()
	spec := stubSpec()

	// Classify the same content in two separate databases; the labels
	// must agree because they derive from atom stable ids.
	collect := func(t *testing.T) map[string]types.Category {
		store, batchID := setupBatch(t)
		if _, err := ClassifyBatch(ctx, store, Input{
			ImportBatchID: batchID, Model: spec.Model, PromptVersionID: spec.PromptVersionID,
			Mode: types.ClassifyStub,
		}); err != nil {
			t.Fatalf("classify: %v", err)
		}
		atoms, err := store.ListUnlabeledAtoms(ctx, batchID,
			types.LabelSpec{Model: "other-model", PromptVersionID: spec.PromptVersionID}, "", 100)
		if err != nil {
			t.Fatalf("list atoms: %v", err)
		}
		ids := make([]string, len(atoms))
		byStable := make(map[string]string, len(atoms))
		for i, a := range atoms {
			ids[i] = a.ID
			byStable[a.ID] = a.AtomStableID
		}
		labels, err := store.LabelsForAtoms(ctx, ids, spec)
		if err != nil {
			t.Fatalf("labels: %v", err)
		}
		out := make(map[string]types.Category, len(labels))
		for id, cat := range labels {
			out[byStable[id]] = cat
		}
		return out
	}

	first := collect(t)
	second := collect(t)
	if len(first) != 8 || len(second) != 8 {
		t.Fatalf("label counts = %d/%d", len(first), len(second))
	}
	for stableID, cat := range first {
		if second[stableID] != cat {
			t.Fatalf("atom %s labeled %s then %s", stableID, cat, second[stableID])
		}
		found := false
		for _, k := range types.StubCategories {
			if k == cat {
				found = true
			}
		}
		if !found {
			t.Fatalf("category %s outside the stub rotation", cat)
		}
	}
}

func TestClassifyIdempotent(t *testing.T) {
	store, batchID := setupBatch(t)
	ctx := context.Background()
	in := Input{
		ImportBatchID: batchID, Model: types.StubModel,
		PromptVersionID: sqlite.StubClassifyVersionID, Mode: types.ClassifyStub,
	}

	if _, err := ClassifyBatch(ctx, store, in); err != nil {
		t.Fatalf("first classify: %v", err)
	}
	second, err := ClassifyBatch(ctx, store, in)
	if err != nil {
		t.Fatalf("second classify: %v", err)
	}
	if second.NewlyLabeled != 0 {
		t.Fatalf("second pass newly labeled %d, want 0", second.NewlyLabeled)
	}
	if second.SkippedAlreadyLabeled != 8 || second.LabeledTotal != 8 {
		t.Fatalf("second pass skipped=%d total=%d", second.SkippedAlreadyLabeled, second.LabeledTotal)
	}
}

func TestClassifyRealModeRejectsStubSeed(t *testing.T) {
	store, batchID := setupBatch(t)

	_, err := ClassifyBatch(context.Background(), store, Input{
		ImportBatchID:   batchID,
		Model:           "gpt-4o-mini",
		PromptVersionID: sqlite.StubClassifyVersionID,
		Mode:            types.ClassifyReal,
	})
	if err == nil {
		t.Fatal("expected real mode to reject the stub seed prompt version")
	}
}

func TestClassifyUnknownBatch(t *testing.T) {
	store, _ := setupBatch(t)
	_, err := ClassifyBatch(context.Background(), store, Input{
		ImportBatchID:   "batch_nope",
		Model:           types.StubModel,
		PromptVersionID: sqlite.StubClassifyVersionID,
		Mode:            types.ClassifyStub,
	})
	if err == nil {
		t.Fatal("expected error for unknown batch")
	}
}
