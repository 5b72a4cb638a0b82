package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/untoldecay/chronicle/internal/types"
)

// topic is one topic_v1 group: all user atoms of one category.
type topic struct {
	ID          string // lowercased category
	DisplayName string
	AtomCount   int
	Days        []string // ascending
	DayCounts   map[string]int
}

func (t *topic) dateRange() string {
	if len(t.Days) == 0 {
		return ""
	}
	return t.Days[0] + ".." + t.Days[len(t.Days)-1]
}

// computeTopics groups atoms by category (unlabeled atoms fall into
// "other") and aggregates the per-topic counts.
func computeTopics(atoms []AtomRef) []*topic {
	byID := map[string]*topic{}
	for _, a := range atoms {
		id := a.Category
		if id == "" {
			id = "other"
		}
		t, ok := byID[id]
		if !ok {
			t = &topic{ID: id, DisplayName: topicDisplayName(id), DayCounts: map[string]int{}}
			byID[id] = t
		}
		t.AtomCount++
		if t.DayCounts[a.DayDate] == 0 {
			t.Days = append(t.Days, a.DayDate)
		}
		t.DayCounts[a.DayDate]++
	}

	out := make([]*topic, 0, len(byID))
	for _, t := range byID {
		sort.Strings(t.Days)
		out = append(out, t)
	}
	// Index order: atomCount DESC, then category ASC.
	sort.Slice(out, func(i, j int) bool {
		if out[i].AtomCount != out[j].AtomCount {
			return out[i].AtomCount > out[j].AtomCount
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// topicDisplayName maps a topic id back through the fixed Title-Case
// category names ("mental_health" -> "Mental Health").
func topicDisplayName(id string) string {
	return types.CategoryDisplayName(types.Category(strings.ToUpper(id)))
}

func atomWord(n int) string {
	if n == 1 {
		return "atom"
	}
	return "atoms"
}

func renderTopicIndex(topics []*topic) string {
	var b strings.Builder
	b.WriteString("# Topics\n\n")
	b.WriteString("| Topic | Category | Atoms | Days |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, t := range topics {
		fmt.Fprintf(&b, "| [%s](%s.md) | %s | %d | %d |\n",
			t.DisplayName, t.ID, t.ID, t.AtomCount, len(t.Days))
	}
	return b.String()
}

func renderTopicPage(t *topic) string {
	fields := []yamlField{
		{"topicId", yamlString(t.ID)},
		{"topicVersion", yamlString(TopicV1)},
		{"category", yamlString(t.ID)},
		{"displayName", yamlString(t.DisplayName)},
		{"atomCount", yamlInt(t.AtomCount)},
		{"dayCount", yamlInt(len(t.Days))},
		{"dateRange", yamlString(t.dateRange())},
	}
	var b strings.Builder
	b.WriteString(frontmatter(fields))
	b.WriteString("\n# " + t.DisplayName + "\n")
	for i := len(t.Days) - 1; i >= 0; i-- {
		day := t.Days[i]
		n := t.DayCounts[day]
		fmt.Fprintf(&b, "\n- [%s](../views/%s.md) (%d %s)", day, day, n, atomWord(n))
	}
	return b.String()
}

// manifestTopic is a topic's footprint in the manifest, the basis for
// the changelog diff between two exports.
type manifestTopic struct {
	AtomCount int      `json:"atomCount"`
	Days      []string `json:"days"`
}

func parseManifestTopics(raw []byte) (map[string]manifestTopic, error) {
	var m struct {
		Topics map[string]manifestTopic `json:"topics"`
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, types.Invalidf("previous manifest is not valid JSON: %v", err)
	}
	if m.Topics == nil {
		return map[string]manifestTopic{}, nil
	}
	return m.Topics, nil
}

// changedTopic records how one surviving topic moved between exports.
type changedTopic struct {
	ID            string
	DisplayName   string
	DaysAdded     []string
	DaysRemoved   []string
	PrevAtomCount int
	AtomCount     int
	AtomDelta     int
}

type changelog struct {
	New     []*topic
	Removed []string // topic ids
	Changed []changedTopic
}

func (c *changelog) changeCount() int {
	return len(c.New) + len(c.Removed) + len(c.Changed)
}

// diffTopics compares the previous manifest's topic map against the
// current topics. A topic counts as changed when its day set or atom
// count differs.
func diffTopics(prev map[string]manifestTopic, current []*topic) *changelog {
	c := &changelog{}
	currentByID := map[string]*topic{}
	for _, t := range current {
		currentByID[t.ID] = t
		if _, ok := prev[t.ID]; !ok {
			c.New = append(c.New, t)
		}
	}
	for id := range prev {
		if _, ok := currentByID[id]; !ok {
			c.Removed = append(c.Removed, id)
		}
	}
	for id, p := range prev {
		t, ok := currentByID[id]
		if !ok {
			continue
		}
		added, removed := diffDays(p.Days, t.Days)
		delta := t.AtomCount - p.AtomCount
		if len(added) == 0 && len(removed) == 0 && delta == 0 {
			continue
		}
		c.Changed = append(c.Changed, changedTopic{
			ID:            id,
			DisplayName:   t.DisplayName,
			DaysAdded:     added,
			DaysRemoved:   removed,
			PrevAtomCount: p.AtomCount,
			AtomCount:     t.AtomCount,
			AtomDelta:     delta,
		})
	}

	sort.Slice(c.New, func(i, j int) bool { return c.New[i].DisplayName < c.New[j].DisplayName })
	sort.Slice(c.Removed, func(i, j int) bool {
		return topicDisplayName(c.Removed[i]) < topicDisplayName(c.Removed[j])
	})
	sort.Slice(c.Changed, func(i, j int) bool { return c.Changed[i].DisplayName < c.Changed[j].DisplayName })
	return c
}

func diffDays(prev, current []string) (added, removed []string) {
	prevSet := map[string]bool{}
	for _, d := range prev {
		prevSet[d] = true
	}
	curSet := map[string]bool{}
	for _, d := range current {
		curSet[d] = true
		if !prevSet[d] {
			added = append(added, d)
		}
	}
	for _, d := range prev {
		if !curSet[d] {
			removed = append(removed, d)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// renderChangelog writes the three sections, omitting empty ones.
// Entries are sorted by display name.
func renderChangelog(c *changelog) string {
	var b strings.Builder
	b.WriteString("# Changelog\n")
	if len(c.New) > 0 {
		b.WriteString("\n## New topics\n")
		for _, t := range c.New {
			fmt.Fprintf(&b, "\n- %s (%d %s)", t.DisplayName, t.AtomCount, atomWord(t.AtomCount))
		}
		b.WriteString("\n")
	}
	if len(c.Removed) > 0 {
		b.WriteString("\n## Removed topics\n")
		for _, id := range c.Removed {
			b.WriteString("\n- " + topicDisplayName(id))
		}
		b.WriteString("\n")
	}
	if len(c.Changed) > 0 {
		b.WriteString("\n## Changed topics\n")
		for _, ch := range c.Changed {
			b.WriteString("\n- " + ch.DisplayName + ":")
			if len(ch.DaysAdded) > 0 {
				b.WriteString(" days added " + strings.Join(ch.DaysAdded, ", ") + ";")
			}
			if len(ch.DaysRemoved) > 0 {
				b.WriteString(" days removed " + strings.Join(ch.DaysRemoved, ", ") + ";")
			}
			fmt.Fprintf(&b, " atoms %d → %d (%+d)", ch.PrevAtomCount, ch.AtomCount, ch.AtomDelta)
		}
		b.WriteString("\n")
	}
	return b.String()
}
