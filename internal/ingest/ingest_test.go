package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/types"
)

func setupTestDB(t *testing.T) *sqlite.SQLiteStorage {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testMessages() []types.ParsedMessage {
	base := time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)
	return []types.ParsedMessage{
		{
			Source: types.SourceChatGPT, SourceConversationID: "c1", SourceMessageID: "m1",
			TimestampUTC: base, Role: types.RoleUser, Text: "how do I write a goroutine?",
		},
		{
			Source: types.SourceChatGPT, SourceConversationID: "c1", SourceMessageID: "m2",
			TimestampUTC: base.Add(time.Minute), Role: types.RoleAssistant, Text: "use the go keyword",
		},
		{
			Source: types.SourceClaude, SourceConversationID: "c2", SourceMessageID: "m1",
			TimestampUTC: base.Add(26 * time.Hour), Role: types.RoleUser, Text: "plan my week",
		},
	}
}

func TestImportExportBasic(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	res, err := ImportExport(ctx, store, testMessages(), Options{
		Filename: "export.jsonl", FileSizeBytes: 1234, Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Inserted != 3 || res.Skipped != 0 {
		t.Fatalf("inserted=%d skipped=%d, want 3/0", res.Inserted, res.Skipped)
	}
	if res.Stats.MessageCount != 3 {
		t.Fatalf("messageCount = %d", res.Stats.MessageCount)
	}
	if res.Stats.DayCount != 2 {
		t.Fatalf("dayCount = %d, want 2", res.Stats.DayCount)
	}
	if res.Stats.PerSourceCounts["chatgpt"] != 2 || res.Stats.PerSourceCounts["claude"] != 1 {
		t.Fatalf("perSourceCounts = %v", res.Stats.PerSourceCounts)
	}

	batch, err := store.GetImportBatch(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("get batch: %v", err)
	}
	if batch.Timezone != "UTC" || batch.OriginalFilename != "export.jsonl" {
		t.Fatalf("batch metadata = %+v", batch)
	}

	n, err := store.CountAtoms(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("count atoms: %v", err)
	}
	if n != 3 {
		t.Fatalf("atom count = %d", n)
	}
}

func TestImportDedupAcrossBatches(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	msgs := testMessages()
	first, err := ImportExport(ctx, store, msgs, Options{Filename: "a.jsonl", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("first import: %v", err)
	}

	// Re-importing the identical file adds nothing.
	second, err := ImportExport(ctx, store, msgs, Options{Filename: "a-again.jsonl", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Inserted != 0 {
		t.Fatalf("second import inserted %d atoms", second.Inserted)
	}
	if second.Skipped != 3 {
		t.Fatalf("second import skipped %d, want 3", second.Skipped)
	}
	found := false
	for _, w := range second.Warnings {
		if strings.Contains(w, "duplicate") {
			found = true
		}
	}
	if !found {
		t.Fatalf("no duplicate warning in %v", second.Warnings)
	}

	// A partially overlapping file inserts only the new message.
	extra := append(msgs[:1:1], types.ParsedMessage{
		Source: types.SourceGrok, SourceConversationID: "c9", SourceMessageID: "m1",
		TimestampUTC: time.Date(2025, 1, 17, 8, 0, 0, 0, time.UTC),
		Role:         types.RoleUser, Text: "fresh message",
	})
	third, err := ImportExport(ctx, store, extra, Options{Filename: "b.jsonl", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("third import: %v", err)
	}
	if third.Inserted != 1 || third.Skipped != 1 {
		t.Fatalf("third import inserted=%d skipped=%d, want 1/1", third.Inserted, third.Skipped)
	}

	if first.BatchID == third.BatchID {
		t.Fatal("batches share an id")
	}
}

func TestImportInputDedup(t *testing.T) {
	store := setupTestDB(t)
	msgs := testMessages()
	msgs = append(msgs, msgs[0]) // same message twice in one file

	res, err := ImportExport(context.Background(), store, msgs, Options{Filename: "dup.jsonl", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Inserted != 3 {
		t.Fatalf("inserted = %d, want 3", res.Inserted)
	}
	if res.Skipped != 1 {
		t.Fatalf("skipped = %d, want 1", res.Skipped)
	}
}

func TestImportTimezoneDayBoundary(t *testing.T) {
	store := setupTestDB(t)

	// 02:00 UTC on Jan 16 is Jan 15 in New York.
	msgs := []types.ParsedMessage{{
		Source: types.SourceChatGPT, SourceConversationID: "c1", SourceMessageID: "m1",
		TimestampUTC: time.Date(2025, 1, 16, 2, 0, 0, 0, time.UTC),
		Role:         types.RoleUser, Text: "late night thought",
	}}
	res, err := ImportExport(context.Background(), store, msgs, Options{
		Filename: "tz.jsonl", Timezone: "America/New_York",
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if res.Stats.CoverageStart == "" {
		t.Fatal("coverage not recorded")
	}

	atoms, err := store.ListUnlabeledAtoms(context.Background(), res.BatchID,
		types.LabelSpec{Model: "stub", PromptVersionID: "none"}, "", 10)
	if err != nil {
		t.Fatalf("list atoms: %v", err)
	}
	if len(atoms) != 1 {
		t.Fatalf("atom count = %d", len(atoms))
	}
	if atoms[0].DayDate != "2025-01-15" {
		t.Fatalf("dayDate = %s, want 2025-01-15", atoms[0].DayDate)
	}
}

func TestImportRejectsBadInput(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	if _, err := ImportExport(ctx, store, nil, Options{Filename: "empty.jsonl"}); err == nil {
		t.Fatal("expected error for empty input")
	}

	bad := testMessages()
	bad[0].Role = "system"
	if _, err := ImportExport(ctx, store, bad, Options{Filename: "role.jsonl"}); err == nil {
		t.Fatal("expected error for invalid role")
	}

	bad = testMessages()
	bad[0].Source = "copilot"
	if _, err := ImportExport(ctx, store, bad, Options{Filename: "src.jsonl"}); err == nil {
		t.Fatal("expected error for unknown source")
	}

	if _, err := ImportExport(ctx, store, testMessages(), Options{
		Filename: "tz.jsonl", Timezone: "Mars/Olympus",
	}); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}
