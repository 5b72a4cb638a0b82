package export

import (
	"encoding/json"
	"sort"

	"github.com/untoldecay/chronicle/internal/hashing"
)

// renderManifest builds .journal-meta/manifest.json. encoding/json
// sorts map keys at every depth, which satisfies the alphabetical-key
// requirement; everything is assembled from maps for that reason.
func renderManifest(in Input, files map[string]string, topics []*topic, change *changelog) (string, error) {
	fileHashes := map[string]any{}
	for path, content := range files {
		fileHashes[path] = map[string]any{"sha256": hashing.SHA256(content)}
	}

	batches := make([]BatchInfo, len(in.Batches))
	copy(batches, in.Batches)
	sort.Slice(batches, func(i, j int) bool { return batches[i].ID < batches[j].ID })
	batchList := make([]any, 0, len(batches))
	for _, b := range batches {
		batchList = append(batchList, map[string]any{
			"id":               b.ID,
			"originalFilename": b.OriginalFilename,
			"source":           string(b.Source),
			"timezone":         b.Timezone,
		})
	}

	m := map[string]any{
		"formatVersion": in.FormatVersion,
		"exportedAt":    in.ExportedAt,
		"dateRange": map[string]any{
			"start": in.StartDate,
			"end":   in.EndDate,
		},
		"batches": batchList,
		"run": map[string]any{
			"id":    in.RunID,
			"model": in.Model,
		},
		"files": fileHashes,
	}

	if in.FormatVersion == FormatV2 {
		topicMap := map[string]any{}
		for _, t := range topics {
			topicMap[t.ID] = map[string]any{
				"atomCount": t.AtomCount,
				"days":      t.Days,
			}
		}
		m["topicVersion"] = in.TopicVersion
		m["topics"] = topicMap
		if change != nil {
			m["changelog"] = changelogSummary(change)
		} else {
			m["changelog"] = nil
		}
	}

	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out) + "\n", nil
}

func changelogSummary(c *changelog) map[string]any {
	newIDs := make([]string, 0, len(c.New))
	for _, t := range c.New {
		newIDs = append(newIDs, t.ID)
	}
	sort.Strings(newIDs)
	removed := make([]string, len(c.Removed))
	copy(removed, c.Removed)
	sort.Strings(removed)
	changed := make([]string, 0, len(c.Changed))
	for _, ch := range c.Changed {
		changed = append(changed, ch.ID)
	}
	sort.Strings(changed)
	return map[string]any{
		"changeCount":   c.changeCount(),
		"changedTopics": changed,
		"newTopics":     newIDs,
		"removedTopics": removed,
	}
}
