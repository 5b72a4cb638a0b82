package bundle

import (
	"strings"

	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/llm"
	"github.com/untoldecay/chronicle/internal/types"
)

// SourceHeaderOverhead is the token reservation charged whenever a new
// source header is emitted within a segment. (segmenter_v1)
const SourceHeaderOverhead = 20

// Segment is one cap-respecting slice of a bundle. Atoms are never
// split; order is preserved across segments.
type Segment struct {
	ID        string
	Index     int
	Text      string
	AtomIDs   []string
	EstTokens int
}

// SegmentResult is the output of SegmentBundle.
type SegmentResult struct {
	Segments     []Segment
	WasSegmented bool
}

// SegmentBundle greedily packs atoms, in order, into segments of at
// most maxInputTokens estimated tokens. A segment is flushed when the
// next atom (plus its possible header overhead) would exceed the cap
// and the segment is non-empty. Segment ids are stable hashes of
// (bundleHash, index). maxInputTokens <= 0 means a single unbounded
// segment.
func SegmentBundle(atoms []*types.MessageAtom, bundleHash string, maxInputTokens int) SegmentResult {
	if len(atoms) == 0 {
		return SegmentResult{}
	}

	type packed struct {
		atoms  []*types.MessageAtom
		tokens int
	}
	var segments []packed
	cur := packed{}
	var lastSource types.Source

	for _, a := range atoms {
		cost := llm.EstimateTokens(AtomLine(a))
		headerNeeded := len(cur.atoms) == 0 || a.Source != lastSource
		if headerNeeded {
			cost += SourceHeaderOverhead
		}
		if maxInputTokens > 0 && len(cur.atoms) > 0 && cur.tokens+cost > maxInputTokens {
			segments = append(segments, cur)
			cur = packed{}
			// New segment always re-emits the source header.
			cost = llm.EstimateTokens(AtomLine(a)) + SourceHeaderOverhead
		}
		cur.atoms = append(cur.atoms, a)
		cur.tokens += cost
		lastSource = a.Source
	}
	segments = append(segments, cur)

	result := SegmentResult{WasSegmented: len(segments) > 1}
	for i, seg := range segments {
		ids := make([]string, len(seg.atoms))
		for j, a := range seg.atoms {
			ids[j] = a.ID
		}
		result.Segments = append(result.Segments, Segment{
			ID:        hashing.SegmentID(bundleHash, i),
			Index:     i,
			Text:      RenderText(seg.atoms),
			AtomIDs:   ids,
			EstTokens: seg.tokens,
		})
	}
	return result
}

// EstimateBundleTokens estimates the full bundle's token count the
// same way the segmenter charges it.
func EstimateBundleTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	return llm.EstimateTokens(text)
}
