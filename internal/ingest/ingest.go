// Package ingest normalises parsed vendor messages into
// content-addressed atoms and per-day raw entries.
package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/untoldecay/chronicle/internal/hashing"
	"github.com/untoldecay/chronicle/internal/idgen"
	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

// Options carries the file-level metadata of one import.
type Options struct {
	Filename       string
	FileSizeBytes  int64
	Timezone       string // IANA; day dates are computed in this zone
	SourceOverride types.Source
}

// Result reports what an import produced.
type Result struct {
	BatchID  string
	Stats    types.ImportStats
	Inserted int
	Skipped  int
	Warnings []string
}

// ImportExport ingests a parsed message stream as one immutable
// import batch. Duplicate atoms (same atomStableId, across any prior
// batch) are skipped, never overwritten; raw entries are created for
// the newly inserted atoms only, in the same transaction as the batch
// and the atoms.
func ImportExport(ctx context.Context, store storage.Storage, msgs []types.ParsedMessage, opts Options) (*Result, error) {
	if len(msgs) == 0 {
		return nil, types.Invalidf("no messages to import")
	}
	if opts.Timezone == "" {
		opts.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(opts.Timezone); err != nil {
		return nil, types.Invalidf("invalid timezone %q", opts.Timezone)
	}

	batchID := idgen.New("batch")
	now := time.Now()

	// Normalise into atoms, deduplicating within the input stream too.
	atoms := make([]*types.MessageAtom, 0, len(msgs))
	seen := make(map[string]bool, len(msgs))
	var inputDups int
	for i, m := range msgs {
		if opts.SourceOverride != "" {
			m.Source = opts.SourceOverride
		}
		if !types.ValidSource(m.Source) {
			return nil, types.Invalidf("message %d has unknown source %q and no override was given", i, m.Source)
		}
		if m.Role != types.RoleUser && m.Role != types.RoleAssistant {
			return nil, types.Invalidf("message %d has invalid role %q", i, m.Role)
		}
		dayDate, err := hashing.ExtractDayDate(m.TimestampUTC, opts.Timezone)
		if err != nil {
			return nil, err
		}
		stableID := hashing.AtomStableID(m)
		if seen[stableID] {
			inputDups++
			continue
		}
		seen[stableID] = true
		atoms = append(atoms, &types.MessageAtom{
			ID:                   idgen.New("atom"),
			AtomStableID:         stableID,
			ImportBatchID:        batchID,
			Source:               m.Source,
			SourceConversationID: m.SourceConversationID,
			SourceMessageID:      m.SourceMessageID,
			TimestampUTC:         m.TimestampUTC,
			DayDate:              dayDate,
			Role:                 m.Role,
			Text:                 m.Text,
			TextHash:             hashing.SHA256(m.Text),
		})
	}

	// Pre-transaction probe: find atoms already present from earlier
	// imports and drop them before insert.
	stableIDs := make([]string, len(atoms))
	for i, a := range atoms {
		stableIDs[i] = a.AtomStableID
	}
	existing, err := store.ExistingStableIDs(ctx, stableIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to probe for duplicates: %w", err)
	}
	fresh := atoms[:0]
	for _, a := range atoms {
		if !existing[a.AtomStableID] {
			fresh = append(fresh, a)
		}
	}
	skipped := len(atoms) - len(fresh) + inputDups

	res := &Result{BatchID: batchID, Skipped: skipped}
	if skipped > 0 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("Skipped %d duplicate messages", skipped))
	}
	res.Stats = computeStats(fresh)

	batch := &types.ImportBatch{
		ID:               batchID,
		CreatedAt:        now,
		Source:           uniformSource(fresh, opts.SourceOverride),
		OriginalFilename: opts.Filename,
		FileSizeBytes:    opts.FileSizeBytes,
		Timezone:         opts.Timezone,
		Stats:            res.Stats,
	}

	err = store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := tx.CreateImportBatch(ctx, batch); err != nil {
			return err
		}
		inserted, err := tx.InsertAtoms(ctx, fresh)
		if err != nil {
			return err
		}
		res.Inserted = inserted
		return createRawEntries(ctx, tx, batchID, fresh, now)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// createRawEntries groups the newly inserted atoms per (source, day)
// and writes their verbatim concatenation in canonical order.
func createRawEntries(ctx context.Context, tx storage.Tx, batchID string, atoms []*types.MessageAtom, now time.Time) error {
	type key struct {
		source types.Source
		day    string
	}
	groups := make(map[key][]*types.MessageAtom)
	for _, a := range atoms {
		k := key{a.Source, a.DayDate}
		groups[k] = append(groups[k], a)
	}

	keys := make([]key, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].source != keys[j].source {
			return keys[i].source < keys[j].source
		}
		return keys[i].day < keys[j].day
	})

	for _, k := range keys {
		content := RawEntryText(groups[k])
		entry := &types.RawEntry{
			ID:            idgen.New("raw"),
			ImportBatchID: batchID,
			Source:        k.source,
			DayDate:       k.day,
			ContentText:   content,
			ContentHash:   hashing.SHA256(content),
			CreatedAt:     now,
		}
		if err := tx.CreateRawEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// RawEntryText renders a day's atoms as newline-joined
// "[canonicalTs] role: text" lines in canonical order: timestamp ASC,
// user before assistant, stable id ASC.
func RawEntryText(atoms []*types.MessageAtom) string {
	sorted := make([]*types.MessageAtom, len(atoms))
	copy(sorted, atoms)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.TimestampUTC.Equal(b.TimestampUTC) {
			return a.TimestampUTC.Before(b.TimestampUTC)
		}
		if ra, rb := types.RoleRank(a.Role), types.RoleRank(b.Role); ra != rb {
			return ra < rb
		}
		return a.AtomStableID < b.AtomStableID
	})

	out := ""
	for i, a := range sorted {
		if i > 0 {
			out += "\n"
		}
		out += "[" + hashing.ToCanonicalTs(a.TimestampUTC) + "] " + string(a.Role) + ": " + a.Text
	}
	return out
}

func computeStats(atoms []*types.MessageAtom) types.ImportStats {
	stats := types.ImportStats{
		MessageCount:    len(atoms),
		PerSourceCounts: make(map[string]int),
	}
	days := make(map[string]bool)
	var minTs, maxTs time.Time
	for _, a := range atoms {
		days[a.DayDate] = true
		stats.PerSourceCounts[string(a.Source)]++
		if minTs.IsZero() || a.TimestampUTC.Before(minTs) {
			minTs = a.TimestampUTC
		}
		if maxTs.IsZero() || a.TimestampUTC.After(maxTs) {
			maxTs = a.TimestampUTC
		}
	}
	stats.DayCount = len(days)
	if !minTs.IsZero() {
		stats.CoverageStart = hashing.ToCanonicalTs(minTs)
		stats.CoverageEnd = hashing.ToCanonicalTs(maxTs)
	}
	return stats
}

// uniformSource returns the batch-level source: the override when
// given, the shared source when every atom agrees, otherwise "".
func uniformSource(atoms []*types.MessageAtom, override types.Source) types.Source {
	if override != "" {
		return override
	}
	var src types.Source
	for _, a := range atoms {
		if src == "" {
			src = a.Source
		} else if src != a.Source {
			return ""
		}
	}
	return src
}
