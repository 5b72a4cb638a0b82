package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/untoldecay/chronicle/internal/storage"
	"github.com/untoldecay/chronicle/internal/types"
)

func (t *connTx) CreateImportBatch(ctx context.Context, batch *types.ImportBatch) error {
	stats, err := json.Marshal(batch.Stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	_, err = t.exec(ctx, `
		INSERT INTO import_batches (id, created_at, source, original_filename, file_size_bytes, timezone, stats_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		batch.ID, fmtTs(batch.CreatedAt), string(batch.Source),
		batch.OriginalFilename, batch.FileSizeBytes, batch.Timezone, string(stats))
	if err != nil {
		return fmt.Errorf("failed to create import batch: %w", err)
	}
	return nil
}

func (t *connTx) InsertAtoms(ctx context.Context, atoms []*types.MessageAtom) (int, error) {
	inserted := 0
	for _, a := range atoms {
		res, err := t.exec(ctx, `
			INSERT INTO message_atoms (id, atom_stable_id, import_batch_id, source,
				source_conversation_id, source_message_id, timestamp_utc, day_date,
				role, text, text_hash, role_rank)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(atom_stable_id) DO NOTHING`,
			a.ID, a.AtomStableID, a.ImportBatchID, string(a.Source),
			a.SourceConversationID, a.SourceMessageID, fmtTs(a.TimestampUTC),
			a.DayDate, string(a.Role), a.Text, a.TextHash, types.RoleRank(a.Role))
		if err != nil {
			return inserted, fmt.Errorf("failed to insert atom: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, err
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (t *connTx) CreateRawEntry(ctx context.Context, entry *types.RawEntry) error {
	_, err := t.exec(ctx, `
		INSERT INTO raw_entries (id, import_batch_id, source, day_date, content_text, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ImportBatchID, string(entry.Source), entry.DayDate,
		entry.ContentText, entry.ContentHash, fmtTs(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create raw entry: %w", err)
	}
	return nil
}

// ExistingStableIDs returns which of the given atom stable ids are
// already present. Probed in chunks to stay under SQLite's parameter
// limit.
func (s *SQLiteStorage) ExistingStableIDs(ctx context.Context, stableIDs []string) (map[string]bool, error) {
	existing := make(map[string]bool)
	const chunk = 500
	for start := 0; start < len(stableIDs); start += chunk {
		end := start + chunk
		if end > len(stableIDs) {
			end = len(stableIDs)
		}
		ids := stableIDs[start:end]
		rows, err := s.db.QueryContext(ctx,
			`SELECT atom_stable_id FROM message_atoms WHERE atom_stable_id IN (`+placeholders(len(ids))+`)`,
			stringArgs(ids)...)
		if err != nil {
			return nil, fmt.Errorf("failed to probe stable ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return existing, nil
}

func scanBatch(row *sql.Row) (*types.ImportBatch, error) {
	var b types.ImportBatch
	var createdAt, source, stats string
	err := row.Scan(&b.ID, &createdAt, &source, &b.OriginalFilename,
		&b.FileSizeBytes, &b.Timezone, &stats)
	if err != nil {
		return nil, err
	}
	b.CreatedAt = parseTs(createdAt)
	b.Source = types.Source(source)
	if err := json.Unmarshal([]byte(stats), &b.Stats); err != nil {
		return nil, fmt.Errorf("failed to parse batch stats: %w", err)
	}
	return &b, nil
}

const batchCols = `id, created_at, source, original_filename, file_size_bytes, timezone, stats_json`

func (s *SQLiteStorage) GetImportBatch(ctx context.Context, id string) (*types.ImportBatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+batchCols+` FROM import_batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &types.NotFoundError{Resource: "import batch", ID: id}
	}
	return b, err
}

func (s *SQLiteStorage) ListImportBatches(ctx context.Context, ids []string) ([]*types.ImportBatch, error) {
	batches := make([]*types.ImportBatch, 0, len(ids))
	for _, id := range ids {
		b, err := s.GetImportBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

const atomCols = `id, atom_stable_id, import_batch_id, source, source_conversation_id,
	source_message_id, timestamp_utc, day_date, role, text, text_hash`

func scanAtoms(rows *sql.Rows) ([]*types.MessageAtom, error) {
	defer rows.Close()
	var atoms []*types.MessageAtom
	for rows.Next() {
		var a types.MessageAtom
		var ts, source, role string
		if err := rows.Scan(&a.ID, &a.AtomStableID, &a.ImportBatchID, &source,
			&a.SourceConversationID, &a.SourceMessageID, &ts, &a.DayDate,
			&role, &a.Text, &a.TextHash); err != nil {
			return nil, err
		}
		a.TimestampUTC = parseTs(ts)
		a.Source = types.Source(source)
		a.Role = types.Role(role)
		atoms = append(atoms, &a)
	}
	return atoms, rows.Err()
}

// categoryPredicate renders the filter snapshot as a SQL predicate over
// l.category. Returns ok=false when the filter can never match
// (include mode with an empty list).
func categoryPredicate(f types.FilterSnapshot) (clause string, args []any, ok bool) {
	if len(f.Categories) == 0 {
		if f.Mode == types.FilterInclude {
			return "", nil, false
		}
		return "", nil, true // exclude nothing
	}
	for _, c := range f.Categories {
		args = append(args, string(c))
	}
	op := "IN"
	if f.Mode == types.FilterExclude {
		op = "NOT IN"
	}
	return fmt.Sprintf(" AND l.category %s (%s)", op, placeholders(len(args))), args, true
}

// ListBundleAtoms loads the role=user atoms of one day that carry a
// filter-passing label under the given spec, in canonical bundle
// order: source ASC, timestamp ASC, role rank, stable id.
func (s *SQLiteStorage) ListBundleAtoms(ctx context.Context, q storage.BundleQuery) ([]*types.MessageAtom, error) {
	if len(q.BatchIDs) == 0 || len(q.Sources) == 0 {
		return nil, nil
	}
	catClause, catArgs, ok := categoryPredicate(q.Filter)
	if !ok {
		return nil, nil
	}

	query := `
		SELECT a.id, a.atom_stable_id, a.import_batch_id, a.source,
			a.source_conversation_id, a.source_message_id, a.timestamp_utc,
			a.day_date, a.role, a.text, a.text_hash
		FROM message_atoms a
		JOIN message_labels l ON l.message_atom_id = a.id
			AND l.model = ? AND l.prompt_version_id = ?
		WHERE a.import_batch_id IN (` + placeholders(len(q.BatchIDs)) + `)
			AND a.day_date = ?
			AND a.source IN (` + placeholders(len(q.Sources)) + `)
			AND a.role = 'user'` + catClause + `
		ORDER BY a.source ASC, a.timestamp_utc ASC, a.role_rank ASC, a.atom_stable_id ASC`

	args := []any{q.LabelSpec.Model, q.LabelSpec.PromptVersionID}
	args = append(args, stringArgs(q.BatchIDs)...)
	args = append(args, q.DayDate)
	for _, src := range q.Sources {
		args = append(args, string(src))
	}
	args = append(args, catArgs...)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load bundle atoms: %w", err)
	}
	return scanAtoms(rows)
}

// ListUserAtoms loads role=user atoms for export, in the same
// canonical order as bundles.
func (s *SQLiteStorage) ListUserAtoms(ctx context.Context, q storage.AtomRangeQuery) ([]*types.MessageAtom, error) {
	if len(q.BatchIDs) == 0 || len(q.Sources) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + atomCols + `
		FROM message_atoms
		WHERE import_batch_id IN (` + placeholders(len(q.BatchIDs)) + `)
			AND day_date >= ? AND day_date <= ?
			AND source IN (` + placeholders(len(q.Sources)) + `)
			AND role = 'user'
		ORDER BY source ASC, timestamp_utc ASC, role_rank ASC, atom_stable_id ASC`

	args := stringArgs(q.BatchIDs)
	args = append(args, q.StartDate, q.EndDate)
	for _, src := range q.Sources {
		args = append(args, string(src))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load user atoms: %w", err)
	}
	return scanAtoms(rows)
}
