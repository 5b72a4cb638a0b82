package search

import (
	"context"
	"encoding/base64"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/types"
)

func setupIndexedBatch(t *testing.T) (*sqlite.SQLiteStorage, string) {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	base := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	texts := []string{
		"planning the garden beds for spring",
		"garden soil delivery arrives tomorrow",
		"unrelated grocery list",
	}
	var msgs []types.ParsedMessage
	for i, text := range texts {
		msgs = append(msgs, types.ParsedMessage{
			Source:               types.SourceChatGPT,
			SourceConversationID: "c1",
			SourceMessageID:      string(rune('a' + i)),
			TimestampUTC:         base.Add(time.Duration(i) * time.Minute),
			Role:                 types.RoleUser,
			Text:                 text,
		})
	}
	imp, err := ingest.ImportExport(context.Background(), store, msgs, ingest.Options{
		Filename: "t.jsonl", Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return store, imp.BatchID
}

func TestSearchRawScope(t *testing.T) {
	store, batchID := setupIndexedBatch(t)

	res, err := Search(context.Background(), store, Query{
		Scope:         storage.SearchRaw,
		Text:          "garden",
		ImportBatchID: batchID,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("hit count = %d, want 2", len(res.Hits))
	}
	for _, h := range res.Hits {
		if !strings.Contains(h.Snippet, "<<garden>>") {
			t.Fatalf("snippet not highlighted: %q", h.Snippet)
		}
		if h.Source != "chatgpt" || h.Role != "user" || h.DayDate != "2025-05-01" {
			t.Fatalf("hit projection = %+v", h)
		}
	}
	if res.NextCursor != "" {
		t.Fatalf("partial page returned a cursor: %q", res.NextCursor)
	}
}

func TestSearchPagination(t *testing.T) {
	store, _ := setupIndexedBatch(t)
	ctx := context.Background()

	page1, err := Search(ctx, store, Query{
		Scope: storage.SearchRaw,
		Text:  "garden",
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1.Hits) != 1 || page1.NextCursor == "" {
		t.Fatalf("page 1 = %+v", page1)
	}

	page2, err := Search(ctx, store, Query{
		Scope:  storage.SearchRaw,
		Text:   "garden",
		Limit:  1,
		Cursor: page1.NextCursor,
	})
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(page2.Hits) != 1 {
		t.Fatalf("page 2 hits = %d", len(page2.Hits))
	}
	if page2.Hits[0].ID == page1.Hits[0].ID {
		t.Fatal("cursor did not advance past the first hit")
	}

	// Walking until the cursor is empty visits each hit exactly once.
	seen := map[string]bool{page1.Hits[0].ID: true, page2.Hits[0].ID: true}
	cursor := page2.NextCursor
	for cursor != "" {
		page, err := Search(ctx, store, Query{
			Scope: storage.SearchRaw, Text: "garden", Limit: 1, Cursor: cursor,
		})
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for _, h := range page.Hits {
			if seen[h.ID] {
				t.Fatalf("hit %s returned twice", h.ID)
			}
			seen[h.ID] = true
		}
		cursor = page.NextCursor
	}
	if len(seen) != 2 {
		t.Fatalf("pagination visited %d hits, want 2", len(seen))
	}
}

func TestSearchValidation(t *testing.T) {
	store, _ := setupIndexedBatch(t)
	ctx := context.Background()

	cases := []struct {
		name string
		q    Query
	}{
		{"empty text", Query{Scope: storage.SearchRaw}},
		{"bad scope", Query{Scope: "everything", Text: "garden"}},
		{"unknown category", Query{Scope: storage.SearchRaw, Text: "garden", Categories: []types.Category{"NOPE"}}},
		{"category without label context", Query{Scope: storage.SearchRaw, Text: "garden", Categories: []types.Category{types.CategoryWork}}},
	}
	for _, tc := range cases {
		_, err := Search(ctx, store, tc.q)
		var invalid *types.InvalidInputError
		if !errors.As(err, &invalid) {
			t.Errorf("%s: expected InvalidInputError, got %v", tc.name, err)
		}
	}
}

func TestSearchCategoryFilterWithExplicitSpec(t *testing.T) {
	store, _ := setupIndexedBatch(t)

	// No labels exist for this spec, so the join filters everything out.
	res, err := Search(context.Background(), store, Query{
		Scope:      storage.SearchRaw,
		Text:       "garden",
		Categories: []types.Category{types.CategoryWork},
		LabelSpec:  &types.LabelSpec{Model: types.StubModel, PromptVersionID: sqlite.StubClassifyVersionID},
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Hits) != 0 {
		t.Fatalf("unlabeled atoms matched a category filter: %+v", res.Hits)
	}
}

func TestCursorRoundTrip(t *testing.T) {
	in := cursor{Rank: -1.5, ID: "atom_x"}
	out, err := decodeCursor(encodeCursor(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out != in {
		t.Fatalf("round trip = %+v, want %+v", out, in)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	bad := []string{
		"not base64 ***",
		base64.RawURLEncoding.EncodeToString([]byte("not json")),
		base64.RawURLEncoding.EncodeToString([]byte(`{"rank":1}`)), // missing id
	}
	for _, s := range bad {
		_, err := decodeCursor(s)
		var invalid *types.InvalidInputError
		if !errors.As(err, &invalid) {
			t.Errorf("decodeCursor(%q): expected InvalidInputError, got %v", s, err)
		}
	}
}
