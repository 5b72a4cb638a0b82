package export

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/untoldecay/chronicle/internal/types"
)

func v2Input() Input {
	in := testInput(3)
	in.FormatVersion = FormatV2
	in.TopicVersion = TopicV1
	// Rework the atoms into a mix of categories, including an unlabeled
	// one that must fall into "other".
	in.Atoms = []AtomRef{
		{Source: types.SourceChatGPT, DayDate: "2025-05-01", Ts: "2025-05-01T09:00:00.000Z", Text: "standup notes", Category: "work"},
		{Source: types.SourceChatGPT, DayDate: "2025-05-01", Ts: "2025-05-01T10:00:00.000Z", Text: "sprint plan", Category: "work"},
		{Source: types.SourceChatGPT, DayDate: "2025-05-02", Ts: "2025-05-02T09:00:00.000Z", Text: "retro", Category: "work"},
		{Source: types.SourceChatGPT, DayDate: "2025-05-02", Ts: "2025-05-02T11:00:00.000Z", Text: "therapy scheduling", Category: "mental_health"},
		{Source: types.SourceChatGPT, DayDate: "2025-05-03", Ts: "2025-05-03T09:00:00.000Z", Text: "unlabeled thought", Category: ""},
	}
	return in
}

func TestComputeTopics(t *testing.T) {
	topics := computeTopics(v2Input().Atoms)
	if len(topics) != 3 {
		t.Fatalf("topic count = %d, want 3", len(topics))
	}
	// Sorted atomCount DESC, then id ASC.
	if topics[0].ID != "work" || topics[0].AtomCount != 3 {
		t.Fatalf("top topic = %+v", topics[0])
	}
	if topics[1].ID != "mental_health" || topics[2].ID != "other" {
		t.Fatalf("tie order = %s, %s", topics[1].ID, topics[2].ID)
	}
	if topics[1].DisplayName != "Mental Health" {
		t.Fatalf("display name = %s", topics[1].DisplayName)
	}
	if topics[0].dateRange() != "2025-05-01..2025-05-02" {
		t.Fatalf("work dateRange = %s", topics[0].dateRange())
	}
}

func TestRenderV2Topics(t *testing.T) {
	files, err := Render(v2Input())
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	index := files["topics/INDEX.md"]
	if !strings.Contains(index, "[Work](work.md)") || !strings.Contains(index, "[Mental Health](mental_health.md)") {
		t.Fatalf("index:\n%s", index)
	}

	page := files["topics/work.md"]
	if !strings.Contains(page, `topicId: "work"`) || !strings.Contains(page, `topicVersion: "topic_v1"`) {
		t.Fatalf("work page frontmatter:\n%s", page)
	}
	// Newest day first, with atom counts; singular form for one atom.
	d2 := strings.Index(page, "../views/2025-05-02.md")
	d1 := strings.Index(page, "../views/2025-05-01.md")
	if d2 < 0 || d1 < 0 || d2 > d1 {
		t.Fatalf("work page day order:\n%s", page)
	}
	if !strings.Contains(page, "(1 atom)") || !strings.Contains(page, "(2 atoms)") {
		t.Fatalf("atom count wording:\n%s", page)
	}

	// No changelog without a previous manifest; manifest says null.
	if _, ok := files["changelog.md"]; ok {
		t.Fatal("changelog rendered without a previous manifest")
	}
	var m struct {
		TopicVersion string                   `json:"topicVersion"`
		Topics       map[string]manifestTopic `json:"topics"`
		Changelog    *json.RawMessage         `json:"changelog"`
	}
	if err := json.Unmarshal([]byte(files[".journal-meta/manifest.json"]), &m); err != nil {
		t.Fatalf("manifest parse: %v", err)
	}
	if m.TopicVersion != TopicV1 {
		t.Fatalf("topicVersion = %s", m.TopicVersion)
	}
	if m.Topics["work"].AtomCount != 3 || len(m.Topics["work"].Days) != 2 {
		t.Fatalf("manifest topics = %+v", m.Topics)
	}
	if m.Changelog != nil && string(*m.Changelog) != "null" {
		t.Fatalf("changelog = %s", string(*m.Changelog))
	}
}

func TestRenderV2Changelog(t *testing.T) {
	in := v2Input()
	first, err := Render(in)
	if err != nil {
		t.Fatalf("first render: %v", err)
	}

	// Second export: work grows a day, mental_health disappears,
	// creative is new.
	in2 := in
	in2.Atoms = []AtomRef{
		{Source: types.SourceChatGPT, DayDate: "2025-05-01", Ts: "2025-05-01T09:00:00.000Z", Text: "standup notes", Category: "work"},
		{Source: types.SourceChatGPT, DayDate: "2025-05-02", Ts: "2025-05-02T09:00:00.000Z", Text: "retro", Category: "work"},
		{Source: types.SourceChatGPT, DayDate: "2025-05-03", Ts: "2025-05-03T09:00:00.000Z", Text: "sketching", Category: "creative"},
		{Source: types.SourceChatGPT, DayDate: "2025-05-03", Ts: "2025-05-03T10:00:00.000Z", Text: "unlabeled thought", Category: ""},
	}
	in2.PreviousManifest = []byte(first[".journal-meta/manifest.json"])
	files, err := Render(in2)
	if err != nil {
		t.Fatalf("second render: %v", err)
	}

	cl, ok := files["changelog.md"]
	if !ok {
		t.Fatal("changelog missing")
	}
	if !strings.Contains(cl, "## New topics") || !strings.Contains(cl, "- Creative (1 atom)") {
		t.Fatalf("new section:\n%s", cl)
	}
	if !strings.Contains(cl, "## Removed topics") || !strings.Contains(cl, "- Mental Health") {
		t.Fatalf("removed section:\n%s", cl)
	}
	if !strings.Contains(cl, "## Changed topics") {
		t.Fatalf("changed section:\n%s", cl)
	}
	if !strings.Contains(cl, "atoms 3 → 2 (-1)") {
		t.Fatalf("work delta missing:\n%s", cl)
	}

	var m struct {
		Changelog struct {
			ChangeCount   int      `json:"changeCount"`
			NewTopics     []string `json:"newTopics"`
			RemovedTopics []string `json:"removedTopics"`
			ChangedTopics []string `json:"changedTopics"`
		} `json:"changelog"`
	}
	if err := json.Unmarshal([]byte(files[".journal-meta/manifest.json"]), &m); err != nil {
		t.Fatalf("manifest parse: %v", err)
	}
	if m.Changelog.ChangeCount != 3 {
		t.Fatalf("changeCount = %d, want 3", m.Changelog.ChangeCount)
	}
	if len(m.Changelog.NewTopics) != 1 || m.Changelog.NewTopics[0] != "creative" {
		t.Fatalf("newTopics = %v", m.Changelog.NewTopics)
	}
	if len(m.Changelog.RemovedTopics) != 1 || m.Changelog.RemovedTopics[0] != "mental_health" {
		t.Fatalf("removedTopics = %v", m.Changelog.RemovedTopics)
	}
	if len(m.Changelog.ChangedTopics) != 1 || m.Changelog.ChangedTopics[0] != "work" {
		t.Fatalf("changedTopics = %v", m.Changelog.ChangedTopics)
	}
}

func TestDiffTopicsUnchangedTopicExcluded(t *testing.T) {
	prev := map[string]manifestTopic{
		"work": {AtomCount: 2, Days: []string{"2025-05-01", "2025-05-02"}},
	}
	current := []*topic{{
		ID: "work", DisplayName: "Work", AtomCount: 2,
		Days: []string{"2025-05-01", "2025-05-02"},
	}}
	c := diffTopics(prev, current)
	if c.changeCount() != 0 {
		t.Fatalf("unchanged topic produced changes: %+v", c)
	}
}
