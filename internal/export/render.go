// Package export turns a completed run into a byte-stable file tree
// suitable for committing to a repository. The renderer is a pure
// function of its input; BuildExportInput does the loading.
package export

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/untoldecay/chronicle/internal/types"
)

// Format markers.
const (
	FormatV1    = "export_v1"
	FormatV2    = "export_v2"
	TopicV1     = "topic_v1"
	TierPrivate = "private"
	TierPublic  = "public"
)

// DayEntry is one job's summary, ready to render.
type DayEntry struct {
	DayDate           string
	OutputText        string
	CreatedAt         string // canonical ts
	BundleHash        string
	BundleContextHash string
	Segmented         bool
	SegmentCount      int
}

// BatchInfo is the import-batch metadata the private tier publishes.
type BatchInfo struct {
	ID               string
	Source           types.Source
	OriginalFilename string
	FileSizeBytes    int64
	Timezone         string
	CreatedAt        string // canonical ts
}

// AtomRef is one user atom projected for the atoms tier and the topic
// computation. Category is the topic id form (lowercase), empty when
// the atom has no label.
type AtomRef struct {
	Source   types.Source
	DayDate  string
	Ts       string // canonical ts
	Text     string
	Category string
}

// Input is everything the renderer needs. ExportedAt is the only field
// whose change may alter output bytes between otherwise identical
// renders (manifest.json, plus changelog.md when a previous manifest
// is supplied).
type Input struct {
	FormatVersion    string // export_v1 or export_v2
	TopicVersion     string // topic_v1 when FormatVersion is export_v2
	Tier             string // private or public
	ExportedAt       string
	RunID            string
	Model            string
	StartDate        string
	EndDate          string
	Batches          []BatchInfo
	Days             []DayEntry // ascending dayDate
	Atoms            []AtomRef  // canonical order; empty under public v1
	PreviousManifest []byte     // raw manifest.json of the prior export, optional
}

// Render produces the full file tree as path -> UTF-8 content. Every
// file ends with exactly one trailing newline and uses LF endings.
func Render(in Input) (map[string]string, error) {
	if in.FormatVersion != FormatV1 && in.FormatVersion != FormatV2 {
		return nil, types.Invalidf("unknown export format %q", in.FormatVersion)
	}
	v2 := in.FormatVersion == FormatV2
	if v2 && in.TopicVersion != TopicV1 {
		return nil, types.Invalidf("format %s requires topic version %s", FormatV2, TopicV1)
	}
	if in.Tier != TierPrivate && in.Tier != TierPublic {
		return nil, types.Invalidf("unknown privacy tier %q", in.Tier)
	}

	files := map[string]string{}
	put := func(path, content string) {
		files[path] = ensureTrailingNewline(content)
	}

	put("README.md", renderReadme(in.FormatVersion))
	put("views/timeline.md", renderTimeline(in.Days))
	for _, d := range in.Days {
		put("views/"+d.DayDate+".md", renderDayView(in, d))
	}

	if in.Tier == TierPrivate {
		byDay := atomsByDay(in.Atoms)
		for _, d := range in.Days {
			put("atoms/"+d.DayDate+".md", renderAtomsDay(byDay[d.DayDate]))
		}
		for slug, b := range batchSlugs(in.Batches) {
			put("sources/"+slug+".md", renderSourcePage(b))
		}
	}

	var topics []*topic
	var change *changelog
	if v2 {
		topics = computeTopics(in.Atoms)
		put("topics/INDEX.md", renderTopicIndex(topics))
		for _, t := range topics {
			put("topics/"+t.ID+".md", renderTopicPage(t))
		}
		if in.PreviousManifest != nil {
			prev, err := parseManifestTopics(in.PreviousManifest)
			if err != nil {
				return nil, err
			}
			change = diffTopics(prev, topics)
			put("changelog.md", renderChangelog(change))
		}
	}

	manifest, err := renderManifest(in, files, topics, change)
	if err != nil {
		return nil, err
	}
	files[".journal-meta/manifest.json"] = manifest
	return files, nil
}

// ensureTrailingNewline normalises a file body: LF line endings only,
// trailing whitespace stripped from every line, exactly one trailing
// newline.
func ensureTrailingNewline(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	s = strings.TrimRight(strings.Join(lines, "\n"), "\n")
	if s == "" {
		return "\n"
	}
	return s + "\n"
}

func renderReadme(format string) string {
	var b strings.Builder
	b.WriteString("# Journal export\n\n")
	b.WriteString("Format: `" + format + "`.\n\n")
	b.WriteString("- `views/` holds one summary per day plus `timeline.md`, the newest-first index.\n")
	b.WriteString("- `atoms/` (private exports) holds the verbatim user messages each summary was built from.\n")
	b.WriteString("- `sources/` (private exports) describes the original export files.\n")
	if format == FormatV2 {
		b.WriteString("- `topics/` groups days by category; `changelog.md` appears when the export was diffed against a previous one.\n")
	}
	b.WriteString("- `.journal-meta/manifest.json` records hashes of every file for integrity checks.\n")
	return b.String()
}

// renderTimeline lists days newest first: flat when the run spans at
// most 14 days, otherwise a Recent section of 14 above the full list.
func renderTimeline(days []DayEntry) string {
	const recentCount = 14
	desc := make([]string, len(days))
	for i, d := range days {
		desc[len(days)-1-i] = "- [" + d.DayDate + "](" + d.DayDate + ".md)"
	}

	var b strings.Builder
	b.WriteString("# Timeline\n")
	if len(desc) <= recentCount {
		for _, line := range desc {
			b.WriteString("\n" + line)
		}
		return b.String()
	}
	b.WriteString("\n## Recent\n")
	for _, line := range desc[:recentCount] {
		b.WriteString("\n" + line)
	}
	b.WriteString("\n\n## All entries\n")
	for _, line := range desc {
		b.WriteString("\n" + line)
	}
	return b.String()
}

func renderDayView(in Input, d DayEntry) string {
	fields := []yamlField{
		{"date", yamlString(d.DayDate)},
		{"model", yamlString(in.Model)},
		{"runId", yamlString(in.RunID)},
		{"createdAt", yamlString(d.CreatedAt)},
		{"bundleHash", yamlString(d.BundleHash)},
		{"bundleContextHash", yamlString(d.BundleContextHash)},
		{"segmented", yamlBool(d.Segmented)},
	}
	if d.Segmented {
		fields = append(fields, yamlField{"segmentCount", yamlInt(d.SegmentCount)})
	}
	return frontmatter(fields) + "\n" + d.OutputText
}

// renderAtomsDay mirrors the bundle rendering: source headers, one
// atom per line, blank line between sources. An empty day renders as a
// single newline.
func renderAtomsDay(atoms []AtomRef) string {
	if len(atoms) == 0 {
		return ""
	}
	var b strings.Builder
	var lastSource types.Source
	for i, a := range atoms {
		if i == 0 || a.Source != lastSource {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("# SOURCE: " + string(a.Source))
			lastSource = a.Source
		}
		b.WriteString("\n[" + a.Ts + "] user: " + a.Text)
	}
	return b.String()
}

func renderSourcePage(b BatchInfo) string {
	fields := []yamlField{
		{"importBatchId", yamlString(b.ID)},
		{"source", yamlString(string(b.Source))},
		{"originalFilename", yamlString(b.OriginalFilename)},
		{"fileSizeBytes", yamlInt(int(b.FileSizeBytes))},
		{"timezone", yamlString(b.Timezone)},
		{"createdAt", yamlString(b.CreatedAt)},
	}
	return frontmatter(fields) + "\n# " + string(b.Source) + ": " + b.OriginalFilename
}

// batchSlugs assigns each batch a slug {source}-{sanitised filename
// without extension}; collisions get -2, -3 suffixes in batch-id
// order.
func batchSlugs(batches []BatchInfo) map[string]BatchInfo {
	ordered := make([]BatchInfo, len(batches))
	copy(ordered, batches)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	out := make(map[string]BatchInfo, len(ordered))
	used := map[string]int{}
	for _, b := range ordered {
		base := string(b.Source) + "-" + sanitiseSlug(stripExt(b.OriginalFilename))
		used[base]++
		slug := base
		if n := used[base]; n > 1 {
			slug = fmt.Sprintf("%s-%d", base, n)
		}
		out[slug] = b
	}
	return out
}

func stripExt(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[:i]
	}
	return name
}

func sanitiseSlug(s string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastDash = false
		} else if !lastDash {
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func atomsByDay(atoms []AtomRef) map[string][]AtomRef {
	out := map[string][]AtomRef{}
	for _, a := range atoms {
		out[a.DayDate] = append(out[a.DayDate], a)
	}
	return out
}

// frontmatter hand-renders the YAML block with the given field order.
type yamlField struct {
	key   string
	value string
}

func yamlString(s string) string {
	b, _ := json.Marshal(s) // JSON string quoting is valid YAML
	return string(b)
}

func yamlBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func yamlInt(n int) string { return fmt.Sprintf("%d", n) }

func frontmatter(fields []yamlField) string {
	var b strings.Builder
	b.WriteString("---\n")
	for _, f := range fields {
		b.WriteString(f.key + ": " + f.value + "\n")
	}
	b.WriteString("---\n")
	return b.String()
}
