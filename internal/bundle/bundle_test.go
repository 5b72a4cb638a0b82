package bundle

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/chronicle/internal/classify"
	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/ingest"
	"github.com/untoldecay/chronicle/internal/storage/sqlite"
	"github.com/untoldecay/chronicle/internal/types"
)

func atom(src types.Source, ts time.Time, text string) *types.MessageAtom {
	return &types.MessageAtom{
		ID:           "atom_" + text,
		AtomStableID: hashing.SHA256(text),
		Source:       src,
		TimestampUTC: ts,
		Role:         types.RoleUser,
		Text:         text,
	}
}

func TestRenderText(t *testing.T) {
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	atoms := []*types.MessageAtom{
		atom(types.SourceChatGPT, base, "first"),
		atom(types.SourceChatGPT, base.Add(time.Minute), "second"),
		atom(types.SourceClaude, base.Add(2*time.Minute), "third"),
	}

	got := RenderText(atoms)
	want := "# SOURCE: chatgpt\n" +
		"[2025-02-01T09:00:00.000Z] user: first\n" +
		"[2025-02-01T09:01:00.000Z] user: second\n\n" +
		"# SOURCE: claude\n" +
		"[2025-02-01T09:02:00.000Z] user: third"
	if got != want {
		t.Fatalf("rendered text:\n%q\nwant:\n%q", got, want)
	}

	if RenderText(nil) != "" {
		t.Fatal("empty atom list should render empty text")
	}
}

func TestContextHashStability(t *testing.T) {
	in := BuildInput{
		BatchIDs:  []string{"b2", "b1"},
		DayDate:   "2025-02-01",
		Sources:   []types.Source{types.SourceClaude, types.SourceChatGPT},
		LabelSpec: types.LabelSpec{Model: "stub", PromptVersionID: "pv1"},
		Filter:    types.FilterSnapshot{Mode: types.FilterInclude, Categories: []types.Category{types.CategoryWork}},
	}

	h1 := ContextHash(in)

	// Batch and source order must not matter: the hash sorts them.
	in2 := in
	in2.BatchIDs = []string{"b1", "b2"}
	in2.Sources = []types.Source{types.SourceChatGPT, types.SourceClaude}
	if ContextHash(in2) != h1 {
		t.Fatal("context hash depends on input ordering")
	}

	// Everything else must matter.
	in3 := in
	in3.DayDate = "2025-02-02"
	if ContextHash(in3) == h1 {
		t.Fatal("day change did not change the context hash")
	}
	in4 := in
	in4.LabelSpec.Model = "gpt-4o-mini"
	if ContextHash(in4) == h1 {
		t.Fatal("label spec change did not change the context hash")
	}
	in5 := in
	in5.Filter.Mode = types.FilterExclude
	if ContextHash(in5) == h1 {
		t.Fatal("filter change did not change the context hash")
	}
}

func TestBuildOrderingAndDeterminism(t *testing.T) {
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	// Deliberately shuffled input; claude before chatgpt, assistant mixed in.
	msgs := []types.ParsedMessage{
		{Source: types.SourceClaude, SourceConversationID: "c", SourceMessageID: "1",
			TimestampUTC: base.Add(time.Hour), Role: types.RoleUser, Text: "claude late"},
		{Source: types.SourceChatGPT, SourceConversationID: "g", SourceMessageID: "2",
			TimestampUTC: base.Add(time.Minute), Role: types.RoleAssistant, Text: "assistant reply"},
		{Source: types.SourceChatGPT, SourceConversationID: "g", SourceMessageID: "3",
			TimestampUTC: base.Add(2 * time.Minute), Role: types.RoleUser, Text: "gpt second"},
		{Source: types.SourceChatGPT, SourceConversationID: "g", SourceMessageID: "4",
			TimestampUTC: base, Role: types.RoleUser, Text: "gpt first"},
	}
	imp, err := ingest.ImportExport(ctx, store, msgs, ingest.Options{Filename: "t.jsonl", Timezone: "UTC"})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	spec := types.LabelSpec{Model: types.StubModel, PromptVersionID: sqlite.StubClassifyVersionID}
	if _, err := classify.ClassifyBatch(ctx, store, classify.Input{
		ImportBatchID: imp.BatchID, Model: spec.Model, PromptVersionID: spec.PromptVersionID,
		Mode: types.ClassifyStub,
	}); err != nil {
		t.Fatalf("classify: %v", err)
	}

	in := BuildInput{
		BatchIDs:  []string{imp.BatchID},
		DayDate:   "2025-02-01",
		Sources:   []types.Source{types.SourceChatGPT, types.SourceClaude, types.SourceGrok},
		LabelSpec: spec,
		Filter:    types.FilterSnapshot{Mode: types.FilterExclude, Categories: nil},
	}
	b, err := Build(ctx, store, in)
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	// Only user atoms, sources in ascending order, timestamps ascending
	// within a source.
	if strings.Contains(b.Text, "assistant") {
		t.Fatalf("assistant content leaked into bundle:\n%s", b.Text)
	}
	gptFirst := strings.Index(b.Text, "gpt first")
	gptSecond := strings.Index(b.Text, "gpt second")
	claudeLate := strings.Index(b.Text, "claude late")
	if gptFirst < 0 || gptSecond < 0 || claudeLate < 0 {
		t.Fatalf("missing atoms in bundle:\n%s", b.Text)
	}
	if !(gptFirst < gptSecond && gptSecond < claudeLate) {
		t.Fatalf("bundle order wrong:\n%s", b.Text)
	}

	// Rebuilding yields identical bytes and hashes.
	b2, err := Build(ctx, store, in)
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if b2.Text != b.Text || b2.Hash != b.Hash || b2.ContextHash != b.ContextHash {
		t.Fatal("bundle not deterministic across rebuilds")
	}
	if b.Hash != hashing.BundleHash(b.Text) {
		t.Fatal("bundle hash does not match text")
	}
}

func TestSegmentBundleRoundTrip(t *testing.T) {
	base := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	var atoms []*types.MessageAtom
	for i := 0; i < 30; i++ {
		src := types.SourceChatGPT
		if i >= 15 {
			src = types.SourceClaude
		}
		atoms = append(atoms, atom(src, base.Add(time.Duration(i)*time.Minute),
			strings.Repeat("x", 200)+string(rune('a'+i%26))))
	}
	hash := hashing.BundleHash(RenderText(atoms))

	res := SegmentBundle(atoms, hash, 300)
	if !res.WasSegmented || len(res.Segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(res.Segments))
	}

	// Atoms appear exactly once, in order, across segments.
	var collected []string
	for i, s := range res.Segments {
		if s.Index != i {
			t.Fatalf("segment %d has index %d", i, s.Index)
		}
		if s.ID != hashing.SegmentID(hash, i) {
			t.Fatalf("segment %d id mismatch", i)
		}
		if len(s.AtomIDs) == 0 {
			t.Fatalf("segment %d is empty", i)
		}
		collected = append(collected, s.AtomIDs...)
	}
	if len(collected) != len(atoms) {
		t.Fatalf("collected %d atoms, want %d", len(collected), len(atoms))
	}
	for i, id := range collected {
		if id != atoms[i].ID {
			t.Fatalf("atom %d out of order: %s", i, id)
		}
	}
}

func TestSegmentBundleSingleWhenUnbounded(t *testing.T) {
	atoms := []*types.MessageAtom{
		atom(types.SourceChatGPT, time.Now(), "one"),
		atom(types.SourceChatGPT, time.Now(), "two"),
	}
	res := SegmentBundle(atoms, "h", 0)
	if res.WasSegmented || len(res.Segments) != 1 {
		t.Fatalf("expected single segment, got %d", len(res.Segments))
	}
	if res.Segments[0].Text != RenderText(atoms) {
		t.Fatal("single segment text differs from bundle text")
	}

	if got := SegmentBundle(nil, "h", 100); len(got.Segments) != 0 {
		t.Fatal("empty input should produce no segments")
	}
}

func TestSegmentOversizedAtomGetsOwnSegment(t *testing.T) {
	big := atom(types.SourceChatGPT, time.Now(), strings.Repeat("y", 4000))
	small := atom(types.SourceChatGPT, time.Now().Add(time.Minute), "small")

	res := SegmentBundle([]*types.MessageAtom{small, big}, "h", 100)
	if len(res.Segments) != 2 {
		t.Fatalf("segments = %d, want 2", len(res.Segments))
	}
	// Atoms are never split, even above the cap.
	if len(res.Segments[1].AtomIDs) != 1 || res.Segments[1].AtomIDs[0] != big.ID {
		t.Fatal("oversized atom was not isolated in its own segment")
	}
}
