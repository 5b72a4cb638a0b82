// Package bundle builds the deterministic per-day text assembled from
// filtered user atoms, and splits it into stable-id segments when it
// exceeds the token cap.
package bundle

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

// BuildInput selects one day's bundle.
type BuildInput struct {
	BatchIDs  []string
	DayDate   string
	Sources   []types.Source
	LabelSpec types.LabelSpec
	Filter    types.FilterSnapshot
}

// Bundle is the rendered per-day text with its hashes and the ordered
// atoms it was built from (for segmentation).
type Bundle struct {
	Text        string
	Hash        string
	ContextHash string
	Atoms       []*types.MessageAtom
}

// Build loads the day's role=user atoms passing the label filter and
// renders them grouped by source. bundleText is a pure function of the
// selected rows; assistant content never appears (only the user's side
// of the conversation constitutes the journal).
func Build(ctx context.Context, store storage.Storage, in BuildInput) (*Bundle, error) {
	atoms, err := store.ListBundleAtoms(ctx, storage.BundleQuery{
		BatchIDs:  in.BatchIDs,
		DayDate:   in.DayDate,
		Sources:   in.Sources,
		LabelSpec: in.LabelSpec,
		Filter:    in.Filter,
	})
	if err != nil {
		return nil, err
	}

	// Cross-batch dedup on stable id, first occurrence wins. The unique
	// constraint already prevents duplicates; this is defence in depth.
	seen := make(map[string]bool, len(atoms))
	deduped := atoms[:0]
	for _, a := range atoms {
		if seen[a.AtomStableID] {
			continue
		}
		seen[a.AtomStableID] = true
		deduped = append(deduped, a)
	}

	text := RenderText(deduped)
	return &Bundle{
		Text:        text,
		Hash:        hashing.BundleHash(text),
		ContextHash: ContextHash(in),
		Atoms:       deduped,
	}, nil
}

// RenderText renders atoms (already in canonical order) as
// "# SOURCE: <src>" groups with one "[ts] role: text" line per atom,
// one blank line between sources, no trailing blank. Empty input
// renders as "".
func RenderText(atoms []*types.MessageAtom) string {
	var b strings.Builder
	var lastSource types.Source
	for i, a := range atoms {
		if i == 0 || a.Source != lastSource {
			if i > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString("# SOURCE: ")
			b.WriteString(string(a.Source))
			lastSource = a.Source
		}
		b.WriteString("\n")
		b.WriteString(AtomLine(a))
	}
	return b.String()
}

// AtomLine renders one atom as "[canonicalTs] role: text".
func AtomLine(a *types.MessageAtom) string {
	return "[" + hashing.ToCanonicalTs(a.TimestampUTC) + "] " + string(a.Role) + ": " + a.Text
}

// ContextHash identifies the selection context a bundle was built
// under: batches, day, sources, filter snapshot, and label spec.
func ContextHash(in BuildInput) string {
	batchIDs := make([]string, len(in.BatchIDs))
	copy(batchIDs, in.BatchIDs)
	sort.Strings(batchIDs)

	sources := make([]string, len(in.Sources))
	for i, s := range in.Sources {
		sources[i] = string(s)
	}
	sort.Strings(sources)

	return hashing.SHA256("bundle_ctx_v1|" +
		strings.Join(batchIDs, ",") + "|" +
		in.DayDate + "|" +
		strings.Join(sources, ",") + "|" +
		canonicalJSON(map[string]any{
			"mode":       string(in.Filter.Mode),
			"categories": in.Filter.Categories,
		}) + "|" +
		canonicalJSON(map[string]any{
			"model":           in.LabelSpec.Model,
			"promptVersionId": in.LabelSpec.PromptVersionID,
		}))
}

// canonicalJSON marshals a map; encoding/json sorts map keys, which is
// exactly the stability we need for hash inputs.
func canonicalJSON(v map[string]any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// maps of strings and slices cannot fail to marshal
		panic(err)
	}
	return string(b)
}
